package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LunchBadger/configstore/internal/eventbus"
)

func TestNotifySendsJSONPayload(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decoding webhook body: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL})
	n.Notify("acme", []eventbus.Change{{Type: eventbus.ChangeHead, Ref: "master", Before: "a", After: "b"}})

	select {
	case p := <-received:
		if p.Producer != "acme" || len(p.Changes) != 1 {
			t.Errorf("received payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestNotifySignsPayloadWhenSecretSet(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Configstore-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Secret: "shh"})
	n.Notify("acme", []eventbus.Change{{Type: eventbus.ChangeHead, Ref: "master"}})

	select {
	case sig := <-received:
		if sig == "" {
			t.Error("expected a signature header when a secret is configured")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestNotifyDoesNotPanicOnUnreachableURL(t *testing.T) {
	n := New(Config{URL: "http://127.0.0.1:1"})
	n.Notify("acme", []eventbus.Change{{Type: eventbus.ChangeHead, Ref: "master"}})
}

func TestSubscribeRelaysPushesToWebhook(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := eventbus.New()
	Subscribe(bus, New(Config{URL: srv.URL}))

	bus.Publish("acme", []eventbus.Change{{Type: eventbus.ChangeHead, Ref: "master"}})

	select {
	case p := <-received:
		if p.Producer != "acme" {
			t.Errorf("Producer = %q, want acme", p.Producer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push was not relayed to webhook")
	}
}

// Package eventbus implements the process-local publish/subscribe of
// ref-update events (spec §4.F). Grounded on the teacher's
// internal/application/service/ci_service.go Subscribe/Unsubscribe/
// broadcastEvent pattern (subscriber map + RWMutex + non-blocking fan-out),
// adapted from per-job CI events to per-producer push events, and on
// internal/transport/http/handler/ci_handler.go's SSE delivery loop
// (heartbeat ticker + select over ctx-done/event/ticker) for the
// subscriber-facing transport used by the REST change-stream endpoint.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LunchBadger/configstore/pkg/logger"
)

// KeepAliveInterval is the idle heartbeat period (spec §4.F).
const KeepAliveInterval = 30 * time.Second

// ZeroHash is the sentinel used for a missing master branch in the initial
// snapshot (spec §4.F).
const ZeroHash = "0000000000000000000000000000000000000000"

// ChangeKind discriminates push-event change entries (spec §3 Push event).
type ChangeKind string

const (
	ChangeHead ChangeKind = "head"
	ChangeTag  ChangeKind = "tag"
)

// Change is one ref update carried by a push event.
type Change struct {
	Type   ChangeKind `json:"type"`
	Ref    string     `json:"ref"`
	Before string     `json:"before"`
	After  string     `json:"after"`
}

// EventType discriminates the three message shapes delivered on the
// change-stream: the initial snapshot, a push notification, and periodic
// keep-alives.
type EventType string

const (
	EventInitial   EventType = "initial"
	EventPush      EventType = "push"
	EventKeepAlive EventType = "keepalive"
)

// Event is one message delivered to a subscriber.
type Event struct {
	Type     EventType         `json:"type"`
	Repo     string            `json:"repo,omitempty"`
	Changes  []Change          `json:"changes,omitempty"`
	Branches map[string]string `json:"branches,omitempty"`
}

// subscription is one registered subscriber's mailbox.
type subscription struct {
	id        uuid.UUID
	producer  string
	ch        chan Event
	ticker    *time.Ticker
	stop      chan struct{}
	stopOnce  sync.Once
}

// PushObserver is notified of every published push, independent of the
// per-producer subscriber mailboxes (used by the optional webhook notifier).
type PushObserver func(producerID string, changes []Change)

// Bus fans out push events to subscribers filtered by producer ID.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]*subscription
	observers []PushObserver
	log       *logger.Logger
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[uuid.UUID]*subscription),
		log:  logger.Get().WithFields(logger.Component("event-bus")),
	}
}

// OnPush registers an observer invoked synchronously on every Publish, in
// addition to the normal per-subscriber fan-out.
func (b *Bus) OnPush(observer PushObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, observer)
}

// Subscribe registers a new subscriber for producerId and returns a channel
// of events plus an unsubscribe function. branches is enqueued immediately
// as the snapshot of an EventInitial message (spec §4.F: "if master is absent, populate it
// as the zero hash").
func (b *Bus) Subscribe(producerID string, branches map[string]string) (<-chan Event, func()) {
	if _, ok := branches["master"]; !ok {
		copied := make(map[string]string, len(branches)+1)
		for branch, rev := range branches {
			copied[branch] = rev
		}
		copied["master"] = ZeroHash
		branches = copied
	}

	sub := &subscription{
		id:       uuid.New(),
		producer: producerID,
		ch:       make(chan Event, 64),
		ticker:   time.NewTicker(KeepAliveInterval),
		stop:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	sub.ch <- Event{Type: EventInitial, Repo: producerID, Branches: branches}

	go b.keepAlive(sub)

	unsubscribe := func() { b.unsubscribe(sub.id) }
	return sub.ch, unsubscribe
}

func (b *Bus) keepAlive(sub *subscription) {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.ticker.C:
			b.enqueue(sub, Event{Type: EventKeepAlive})
		}
	}
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.ticker.Stop()
		sub.stopOnce.Do(func() { close(sub.stop) })
	}
}

// Publish fans a push event for producerID out to every subscriber
// registered under exactly that producer ID (the repository directory name
// without its ".git" suffix).
// Delivery is non-blocking: a subscriber whose mailbox is full silently
// misses the event rather than stalling the publisher.
func (b *Bus) Publish(producerID string, changes []Change) {
	event := Event{Type: EventPush, Repo: producerID, Changes: changes}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.producer != producerID {
			continue
		}
		b.enqueue(sub, event)
	}

	for _, observer := range b.observers {
		observer(producerID, changes)
	}
}

func (b *Bus) enqueue(sub *subscription, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.log.Warn("subscriber mailbox full, dropping event",
			logger.Producer(sub.producer), logger.String("event_type", string(event.Type)))
	}
}

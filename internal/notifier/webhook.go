// Package notifier implements the optional outbound webhook feature
// (SPEC_FULL.md §11 domain stack): POSTing a push event to a configured URL
// whenever the event bus publishes one. The teacher's go.mod already carries
// go-resty/resty/v2 as a dependency but no teacher file imports it; this
// package is what finally exercises it, using resty's standard
// client.R().SetBody(...).Post(url) call shape.
package notifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/go-resty/resty/v2"

	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/pkg/logger"
)

// Config controls the webhook destination.
type Config struct {
	URL    string
	Secret string // optional; signs the payload via X-Configstore-Signature
}

// Notifier POSTs push events to a configured webhook URL.
type Notifier struct {
	client *resty.Client
	cfg    Config
	log    *logger.Logger
}

// New builds a Notifier.
func New(cfg Config) *Notifier {
	return &Notifier{
		client: resty.New(),
		cfg:    cfg,
		log:    logger.Get().WithFields(logger.Component("notifier")),
	}
}

type payload struct {
	Producer string             `json:"producer"`
	Changes  []eventbus.Change  `json:"changes"`
}

// Notify sends producerId's changes to the webhook URL, logging (but not
// returning) delivery failures, matching the event bus's "subscribers that
// error during emission are removed silently" policy (spec §7) applied to
// this out-of-process subscriber.
func (n *Notifier) Notify(producerID string, changes []eventbus.Change) {
	body, err := json.Marshal(payload{Producer: producerID, Changes: changes})
	if err != nil {
		n.log.Error("marshaling webhook payload failed", logger.Producer(producerID), logger.Error(err))
		return
	}

	req := n.client.R().SetHeader("Content-Type", "application/json").SetBody(body)
	if n.cfg.Secret != "" {
		req.SetHeader("X-Configstore-Signature", sign(n.cfg.Secret, body))
	}

	resp, err := req.Post(n.cfg.URL)
	if err != nil {
		n.log.Warn("webhook delivery failed", logger.Producer(producerID), logger.Error(err))
		return
	}
	if resp.IsError() {
		n.log.Warn("webhook rejected", logger.Producer(producerID), logger.Int("status", resp.StatusCode()))
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Subscribe registers the notifier against bus so every push for any
// producer is relayed to the webhook.
func Subscribe(bus *eventbus.Bus, n *Notifier) {
	bus.OnPush(n.Notify)
}

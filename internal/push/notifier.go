// Package push delivers push notifications through an external REST
// provider and keeps the per-room subscription registry on disk. It is a
// fire-and-forget collaborator: delivery failures are logged, never
// propagated into message routing.
package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Options configures the notifier. An empty Endpoint disables delivery;
// Subscribe still records subscriptions so enabling push later picks them up.
type Options struct {
	Endpoint          string
	AppID             string
	APIKey            string
	SubscriptionsPath string
}

// Notifier posts title/body notifications for a room to the configured
// provider, addressed via the room's stored subscription.
type Notifier struct {
	opts   Options
	client *http.Client

	mu   sync.Mutex
	subs map[string]json.RawMessage
}

// NewNotifier loads the subscription file and returns a ready notifier.
// A missing file starts empty; a corrupt one is logged and discarded.
func NewNotifier(opts Options) *Notifier {
	n := &Notifier{
		opts:   opts,
		client: &http.Client{Timeout: 10 * time.Second},
		subs:   make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(opts.SubscriptionsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		log.Printf("Error reading push subscriptions from %s: %v", opts.SubscriptionsPath, err)
	default:
		if err := json.Unmarshal(data, &n.subs); err != nil {
			log.Printf("Push subscription file %s is corrupt, starting empty: %v", opts.SubscriptionsPath, err)
			n.subs = make(map[string]json.RawMessage)
		}
	}
	return n
}

// Subscribe stores a room's push subscription and persists the registry.
func (n *Notifier) Subscribe(room string, subscription json.RawMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.subs[room] = subscription
	data, err := json.MarshalIndent(n.subs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(n.opts.SubscriptionsPath, data, 0o644)
}

// Notify delivers a notification for the room in a detached goroutine.
// Nothing is sent when push is disabled or the room never subscribed.
func (n *Notifier) Notify(room, title, body string) {
	if n.opts.Endpoint == "" {
		return
	}

	n.mu.Lock()
	sub, ok := n.subs[room]
	n.mu.Unlock()
	if !ok {
		log.Printf("No push subscription for room %q, skipping notification", room)
		return
	}

	go func() {
		if err := n.send(room, title, body, sub); err != nil {
			log.Printf("Error sending push for room %q: %v", room, err)
		}
	}()
}

type providerPayload struct {
	AppID        string            `json:"app_id,omitempty"`
	Subscription json.RawMessage   `json:"subscription"`
	Headings     map[string]string `json:"headings"`
	Contents     map[string]string `json:"contents"`
	Data         map[string]any    `json:"data"`
}

func (n *Notifier) send(room, title, body string, sub json.RawMessage) error {
	payload, err := json.Marshal(providerPayload{
		AppID:        n.opts.AppID,
		Subscription: sub,
		Headings:     map[string]string{"en": title},
		Contents:     map[string]string{"en": body},
		Data: map[string]any{
			"room":      room,
			"timestamp": time.Now().UnixMilli(),
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, n.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.opts.APIKey != "" {
		req.Header.Set("Authorization", "Basic "+n.opts.APIKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return errors.New("push provider returned status " + resp.Status)
	}
	return nil
}

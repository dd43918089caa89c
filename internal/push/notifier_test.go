package push

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newCaptureServer returns a test provider endpoint and a channel carrying
// each delivered payload.
func newCaptureServer(t *testing.T) (*httptest.Server, <-chan []byte) {
	t.Helper()

	delivered := make(chan []byte, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		delivered <- body
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	return ts, delivered
}

// TestNotifyDeliversToProvider tests the fire-and-forget POST to the
// provider for a subscribed room.
func TestNotifyDeliversToProvider(t *testing.T) {
	ts, delivered := newCaptureServer(t)

	n := NewNotifier(Options{
		Endpoint:          ts.URL,
		AppID:             "app-1",
		APIKey:            "key-1",
		SubscriptionsPath: filepath.Join(t.TempDir(), "subs.json"),
	})
	if err := n.Subscribe("r1", json.RawMessage(`{"endpoint":"https://push.example/abc"}`)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	n.Notify("r1", "New message", "hello there")

	select {
	case body := <-delivered:
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("Provider received invalid JSON: %v", err)
		}
		if payload["app_id"] != "app-1" {
			t.Errorf("Expected app_id app-1, got %v", payload["app_id"])
		}
		contents, _ := payload["contents"].(map[string]any)
		if contents["en"] != "hello there" {
			t.Errorf("Expected body in contents, got %v", contents)
		}
		data, _ := payload["data"].(map[string]any)
		if data["room"] != "r1" {
			t.Errorf("Expected room r1 in data, got %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Provider never received the notification")
	}
}

// TestNotifySkipsUnsubscribedRoom tests that rooms without a subscription
// produce no provider call.
func TestNotifySkipsUnsubscribedRoom(t *testing.T) {
	ts, delivered := newCaptureServer(t)

	n := NewNotifier(Options{
		Endpoint:          ts.URL,
		SubscriptionsPath: filepath.Join(t.TempDir(), "subs.json"),
	})
	n.Notify("never-subscribed", "title", "body")

	select {
	case body := <-delivered:
		t.Fatalf("Unexpected delivery: %s", body)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestNotifyDisabledWithoutEndpoint tests that an unconfigured notifier is a
// clean no-op.
func TestNotifyDisabledWithoutEndpoint(t *testing.T) {
	n := NewNotifier(Options{SubscriptionsPath: filepath.Join(t.TempDir(), "subs.json")})
	if err := n.Subscribe("r1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	n.Notify("r1", "title", "body") // must not panic or block
}

// TestSubscriptionsSurviveRestart tests that subscriptions persist to disk
// and are reloaded by a fresh notifier.
func TestSubscriptionsSurviveRestart(t *testing.T) {
	ts, delivered := newCaptureServer(t)
	path := filepath.Join(t.TempDir(), "subs.json")

	first := NewNotifier(Options{Endpoint: ts.URL, SubscriptionsPath: path})
	if err := first.Subscribe("r1", json.RawMessage(`{"endpoint":"https://push.example/abc"}`)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	second := NewNotifier(Options{Endpoint: ts.URL, SubscriptionsPath: path})
	second.Notify("r1", "title", "body")

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("Reloaded notifier did not deliver for a persisted subscription")
	}
}

// TestNewNotifierToleratesCorruptFile tests startup with a damaged
// subscription file.
func TestNewNotifierToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.json")
	if err := writeFile(path, "][ not json"); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	n := NewNotifier(Options{SubscriptionsPath: path})
	if err := n.Subscribe("r1", json.RawMessage(`{}`)); err != nil {
		t.Errorf("Subscribe failed after corrupt load: %v", err)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// Package server exposes HTTP handlers: the WebSocket upgrade endpoint, the
// passphrase-gated admin page, push subscription intake, and health checks.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// ServeWS handles WebSocket upgrade requests. The connecting party declares
// itself via query parameters: role=client|admin, and for clients a room
// identifier. A client that supplies no room gets a generated one, reported
// back in the roomInfo acknowledgment.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	role, err := ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, "Query parameter role must be \"client\" or \"admin\".", http.StatusBadRequest)
		return
	}

	room := r.URL.Query().Get("room")
	switch role {
	case RoleClient:
		if room == "" {
			room = uuid.NewString()
		}
	case RoleAdmin:
		room = ""
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	log.Printf("New %s connection from %s (room %q)", role, r.RemoteAddr, room)
	h.Register(NewClient(conn, h, r.RemoteAddr, role, room))
}

// SubscriptionStore records push subscriptions keyed by room.
type SubscriptionStore interface {
	Subscribe(room string, subscription json.RawMessage) error
}

type subscribeRequest struct {
	Room         string          `json:"room"`
	Subscription json.RawMessage `json:"subscription"`
}

// SubscribePushHandler stores a device's push subscription so admin chat can
// reach it while the page is backgrounded.
func SubscribePushHandler(store SubscriptionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" {
			http.Error(w, "Body must be JSON with room and subscription fields", http.StatusBadRequest)
			return
		}

		if err := store.Subscribe(req.Room, req.Subscription); err != nil {
			log.Printf("Error saving push subscription for room %q: %v", req.Room, err)
			http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
			return
		}

		log.Printf("Push subscription saved for room %q", req.Room)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"success":true}`)
	}
}

// AdminPageHandler serves the admin viewer page behind the shared static
// passphrase; anything else gets a 403 before any page content.
func AdminPageHandler(pass, webDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pass == "" || r.URL.Query().Get("pass") != pass {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		http.ServeFile(w, r, filepath.Join(webDir, "admin.html"))
	}
}

// ClientPageHandler serves the device-side page at the root path.
func ClientPageHandler(webDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status as plain text.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Camrelay server is running!")
}

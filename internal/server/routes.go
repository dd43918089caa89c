// Package server wires HTTP handlers into a ServeMux for the relay
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: the client and admin pages, the WebSocket endpoint, push
// subscription intake, health check, and metrics.
func SetupRoutes(hub *Hub, subs SubscriptionStore, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ClientPageHandler(cfg.WebDir))
	mux.HandleFunc("/admin", AdminPageHandler(cfg.AdminPass, cfg.WebDir))
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/subscribe-push", SubscribePushHandler(subs))
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

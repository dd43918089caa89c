// Package server implements the WebSocket relay core: the room registry that
// pairs camera clients with admin viewers, the router that fans client
// traffic out to admins and targets admin commands at single rooms, and the
// session lifecycle that keeps admin views consistent with client presence.
//
// The implementation is organized into specialized files for configuration,
// registry, routing, hub management, clients, and HTTP handlers.
package server

// Package server manages individual WebSocket connections, handling
// read/write pumps, rate limiting, and per-connection role state.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Role identifies which side of the relay a connection is on. It is fixed
// at connect time and immutable for the connection's lifetime.
type Role string

const (
	// RoleClient is the device side: streams media and chat, addressed by room.
	RoleClient Role = "client"
	// RoleAdmin is the viewer side: receives broadcasts from every room.
	RoleAdmin Role = "admin"
)

// ParseRole validates the role query parameter from the connection URL.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// outboundFrame is one queued write: JSON text for protocol messages, or an
// opaque binary payload relayed as-is.
type outboundFrame struct {
	messageType int
	payload     []byte
}

// Client represents one WebSocket connection in the relay. For client-role
// connections room is the registry key; for admin-role connections room is
// empty and selectedRoom scopes outgoing commands instead.
type Client struct {
	conn *websocket.Conn
	send chan outboundFrame
	hub  *Hub
	addr string

	role Role
	room string // immutable; client role only

	selMu        sync.Mutex
	selectedRoom string // admin role only

	closed         bool
	maxMessageSize int64
	limiter        *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient wraps an upgraded WebSocket connection with its relay state.
// The send channel is buffered so routing never blocks on a slow receiver.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, role Role, room string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan outboundFrame, 256),
		hub:            hub,
		addr:           addr,
		role:           role,
		room:           room,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// Room returns the room the client connected with. Empty for admins.
func (c *Client) Room() string {
	return c.room
}

// selectRoom records the admin's current room selection.
func (c *Client) selectRoom(room string) {
	c.selMu.Lock()
	c.selectedRoom = room
	c.selMu.Unlock()
}

// currentSelection returns the admin's selected room, or empty if none.
func (c *Client) currentSelection() string {
	c.selMu.Lock()
	defer c.selMu.Unlock()
	return c.selectedRoom
}

// setupReadConnection configures the read deadline and pong handler so dead
// peers are detected even when they send nothing.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// handleReadError classifies a read failure and reports whether the read
// loop should stop. Every non-nil error ends the loop; classification only
// decides how loudly it is logged.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s %s exceeded maximum size of %d bytes", c.role, c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("%s %s disconnected: %v", c.role, c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("%s %s connection closed: %v", c.role, c.addr, err)
	default:
		log.Printf("WebSocket read error from %s %s: %v", c.role, c.addr, err)
	}
	return true
}

// processMessage decodes a raw inbound payload and hands it to the hub.
// Malformed payloads and unknown types are dropped without affecting the
// connection; non-media traffic is subject to the rate limiter.
func (c *Client) processMessage(raw []byte) {
	msg, k, err := decodeMessage(raw)
	if err != nil {
		log.Printf("Dropping malformed message from %s %s: %v", c.role, c.addr, err)
		droppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	if k == kindUnknown {
		droppedTotal.WithLabelValues("unknown_type").Inc()
		return
	}
	if !isMediaKind(k) && c.limiter != nil && !c.limiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		droppedTotal.WithLabelValues("rate_limited").Inc()
		return
	}
	c.hub.route(c, msg, k)
}

// readPump pulls inbound frames off the socket until it fails or closes,
// then unregisters the connection. It runs in its own goroutine per
// connection; one connection's failure never touches another's.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}
		// Raw binary frames are the side channel for camera payloads:
		// relayed opaquely, correlated by the receiver with the most
		// recently announced room.
		if messageType == websocket.BinaryMessage {
			c.hub.routeBinary(c, raw)
			continue
		}
		c.processMessage(raw)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings. It exits when the send channel is
// closed by the hub or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", c.addr, err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", c.addr, err)
				}
				return
			}
			if err := c.conn.WriteMessage(frame.messageType, frame.payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing message to %s: %v", c.addr, err)
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

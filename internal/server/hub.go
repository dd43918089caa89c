// Package server coordinates session lifecycle, presence notification, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inboundEvent carries one decoded message from a connection's read pump
// into the hub's event loop.
type inboundEvent struct {
	sender *Client
	msg    Message
	kind   kind
}

// binaryEvent carries one opaque binary frame from a client's read pump.
type binaryEvent struct {
	sender  *Client
	payload []byte
}

// Hub owns the connection lifecycle for both roles. Registration,
// unregistration, and inbound routing are serialized through its event loop;
// the registry and the per-connection closed flags are the only shared state
// and both are mutex-guarded so sends from the loop stay race-free against
// pump goroutines.
type Hub struct {
	registry *Registry
	router   *router

	conns      map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	binary     chan binaryEvent

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub wired to its collaborators. Either collaborator may
// be nil; history replay and push notifications then become no-ops while
// routing is unaffected.
func NewHub(sink HistorySink, notifier Notifier) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:   NewRegistry(),
		conns:      make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		binary:     make(chan binaryEvent),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.router = &router{hub: h, registry: h.registry, history: sink, notifier: notifier}
	return h
}

// Register hands a new connection to the hub's event loop.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}

// Unregister hands a closed connection to the hub's event loop. Safe to call
// more than once for the same connection.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// route forwards a decoded inbound message into the event loop. Messages
// arriving during shutdown are discarded.
func (h *Hub) route(c *Client, msg Message, k kind) {
	select {
	case h.inbound <- inboundEvent{sender: c, msg: msg, kind: k}:
	case <-h.ctx.Done():
	}
}

// routeBinary forwards an opaque binary frame into the event loop.
func (h *Hub) routeBinary(c *Client, payload []byte) {
	select {
	case h.binary <- binaryEvent{sender: c, payload: payload}:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main event loop. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case c := <-h.register:
			if c == nil {
				log.Printf("Received nil connection registration; skipping")
				continue
			}
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case ev := <-h.inbound:
			h.router.dispatch(ev.sender, ev.msg, ev.kind)
		case ev := <-h.binary:
			h.broadcastBinary(ev.sender, ev.payload)
		}
	}
}

// broadcastBinary relays a client's raw binary frame to every admin.
// Ordering relative to the JSON metadata announcing it is best-effort.
func (h *Hub) broadcastBinary(c *Client, payload []byte) {
	if c.role != RoleClient {
		return
	}
	messagesTotal.WithLabelValues("binary").Inc()

	var failed []*Client
	for _, admin := range h.registry.Admins() {
		if !h.safeSend(admin, outboundFrame{messageType: websocket.BinaryMessage, payload: payload}) {
			failed = append(failed, admin)
		}
	}
	h.removeFailed(failed)
}

// handleRegister moves a connection from Connecting to Registered: it enters
// the registry, the pump goroutines start, and the role-specific greeting
// and presence notifications go out.
func (h *Hub) handleRegister(c *Client) {
	h.mutex.Lock()
	c.closed = false
	h.conns[c] = true
	total := len(h.conns)
	h.mutex.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	connectionsGauge.WithLabelValues(string(c.role)).Inc()

	switch c.role {
	case RoleClient:
		if replaced := h.registry.RegisterClient(c.room, c); replaced {
			log.Printf("Room %q taken over by new client from %s; previous socket left unroutable", c.room, c.addr)
		}
		h.sendMessage(c, Message{Type: "roomInfo", Room: c.room})
		h.broadcastToAdmins(Message{Type: "clientConnected", Room: c.room})
		log.Printf("Client registered for room %q from %s. Total connections: %d", c.room, c.addr, total)
	case RoleAdmin:
		h.registry.RegisterAdmin(c)
		h.sendMessage(c, Message{Type: "roomsList", Rooms: h.registry.Rooms()})
		log.Printf("Admin registered from %s. Total connections: %d", c.addr, total)
	}
}

// handleUnregister moves a connection to Closed. The registry decides
// whether a room entry actually went away, so duplicate close events and
// stale superseded sockets never trigger a second disconnect broadcast or
// evict a newer registration.
func (h *Hub) handleUnregister(c *Client) {
	h.mutex.Lock()
	_, present := h.conns[c]
	if present {
		delete(h.conns, c)
		c.closed = true
	}
	total := len(h.conns)
	h.mutex.Unlock()

	if !present {
		return
	}
	close(c.send)
	connectionsGauge.WithLabelValues(string(c.role)).Dec()

	removed := h.registry.Unregister(c)
	if c.role == RoleClient && removed {
		h.broadcastToAdmins(Message{Type: "clientDisconnected", Room: c.room})
	}
	log.Printf("%s from %s unregistered. Total connections: %d", c.role, c.addr, total)
}

// safeSend queues a frame for one connection, checking readiness
// immediately before the write. Sends to closed or unregistered connections
// and sends that would block on a full buffer report failure instead of
// faulting.
func (h *Hub) safeSend(c *Client, frame outboundFrame) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.conns[c]; !exists || c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendMessage marshals and queues a message for a single connection.
// Fire-and-forget: a failed send is logged and the receiver is left to the
// unregister path.
func (h *Hub) sendMessage(c *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", msg.Type, err)
		return
	}
	if !h.safeSend(c, outboundFrame{messageType: websocket.TextMessage, payload: payload}) {
		droppedTotal.WithLabelValues("not_open").Inc()
	}
}

// broadcastToAdmins delivers one message to every currently open admin
// connection, working from a snapshot so the admin set can change mid-
// broadcast without a connection being visited twice or erroring.
func (h *Hub) broadcastToAdmins(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s broadcast: %v", msg.Type, err)
		return
	}

	var failed []*Client
	for _, admin := range h.registry.Admins() {
		if !h.safeSend(admin, outboundFrame{messageType: websocket.TextMessage, payload: payload}) {
			failed = append(failed, admin)
		}
	}
	h.removeFailed(failed)
}

// removeFailed cleans up connections whose send buffers were full or that
// closed mid-broadcast.
func (h *Hub) removeFailed(failed []*Client) {
	for _, c := range failed {
		log.Printf("%s from %s removed due to full or closed send buffer", c.role, c.addr)
		h.handleUnregister(c)
	}
}

// shutdownClients closes every live connection during hub shutdown.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all relay connections...")

	h.mutex.Lock()
	conns := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mutex.Unlock()

	for _, c := range conns {
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing connection from %s: %v", c.addr, err)
			}
		}
	}

	log.Printf("Closed %d relay connections", len(conns))
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Package server tracks which socket belongs to which room and role via the
// Registry type, the single source of truth for message routing.
package server

import (
	"sort"
	"sync"
)

// Registry maps room identifiers to at most one client connection each and
// maintains the set of connected admins. All access is internally
// synchronized; callers never see the raw maps.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	admins  map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		admins:  make(map[*Client]struct{}),
	}
}

// RegisterClient inserts or overwrites the room's client entry and reports
// whether an earlier connection was displaced. A second client connecting
// with the same room silently replaces the first: the superseded socket is
// left open but its traffic is no longer routable.
func (r *Registry) RegisterClient(room string, c *Client) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.clients[room]
	r.clients[room] = c
	return ok && prev != c
}

// RegisterAdmin adds a connection to the admin set. There is no cardinality
// bound on admins.
func (r *Registry) RegisterAdmin(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[c] = struct{}{}
}

// Unregister removes the connection from the registry, dispatching on its
// role. A client entry is removed only when the stored connection is this
// exact connection, so a stale socket's close event can never evict a newer
// registration for the same room. The returned flag reports whether a client
// room entry was actually removed; duplicate unregisters are a no-op.
func (r *Registry) Unregister(c *Client) (removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.role == RoleAdmin {
		delete(r.admins, c)
		return false
	}
	if current, ok := r.clients[c.room]; ok && current == c {
		delete(r.clients, c.room)
		return true
	}
	return false
}

// LookupClient returns the client currently registered to the room, if any.
func (r *Registry) LookupClient(room string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[room]
	return c, ok
}

// Admins returns a snapshot of the admin set. The snapshot is safe to
// iterate while admins connect and disconnect concurrently.
func (r *Registry) Admins() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admins := make([]*Client, 0, len(r.admins))
	for a := range r.admins {
		admins = append(admins, a)
	}
	return admins
}

// Rooms returns a sorted snapshot of the rooms with a registered client,
// used to answer roomsList queries from newly connected admins.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.clients))
	for room := range r.clients {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Package history implements the chat history sink: an append-only,
// room-keyed log held in memory and flushed to a JSON file on a fixed
// interval and on shutdown. It sits outside the routing core; a failed
// flush never affects in-memory routing and is retried on the next tick.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one persisted chat message. From is either the sender's room
// (client-originated) or the admin marker.
type Record struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Text       string `json:"text,omitempty"`
	Attachment string `json:"attachment,omitempty"`
	Room       string `json:"room"`
	Timestamp  int64  `json:"timestamp"`
}

// NewRecordID returns a lexically sortable identifier for a record, so a
// room's log stays ordered even across reloads.
func NewRecordID() string {
	return ulid.Make().String()
}

// Store is a key-value JSON store of room → ordered chat records.
type Store struct {
	path string

	mu    sync.RWMutex
	rooms map[string][]Record
	dirty bool
}

// Open loads the store from path, or starts empty when the file does not
// exist yet. A corrupt file is logged and replaced on the next flush rather
// than blocking startup.
func Open(path string) (*Store, error) {
	s := &Store{path: path, rooms: make(map[string][]Record)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.rooms); err != nil {
		log.Printf("History file %s is corrupt, starting empty: %v", path, err)
		s.rooms = make(map[string][]Record)
	}
	return s, nil
}

// Append adds a record to a room's log. An empty ID is filled in.
func (s *Store) Append(room string, rec Record) {
	if rec.ID == "" {
		rec.ID = NewRecordID()
	}

	s.mu.Lock()
	s.rooms[room] = append(s.rooms[room], rec)
	s.dirty = true
	s.mu.Unlock()
}

// Room returns a copy of a room's ordered records.
func (s *Store) Room(room string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.rooms[room]
	if len(records) == 0 {
		return nil
	}
	return append([]Record(nil), records...)
}

// All returns a copy of the full room → records mapping.
func (s *Store) All() map[string][]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string][]Record, len(s.rooms))
	for room, records := range s.rooms {
		all[room] = append([]Record(nil), records...)
	}
	return all
}

// Persist flushes the store to disk when it has changed since the last
// flush. The write goes to a temp file first and is renamed into place so a
// crash mid-write never corrupts the existing file.
func (s *Store) Persist() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.rooms, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = false
	s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.markDirty()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.markDirty()
		return err
	}
	return nil
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// RunFlusher persists the store on a fixed interval until the context is
// cancelled, then performs a final flush. It is a detached background task:
// it shares the in-memory maps with the router but never blocks it.
func (s *Store) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				log.Printf("Error persisting chat history: %v", err)
			}
		case <-ctx.Done():
			if err := s.Persist(); err != nil {
				log.Printf("Error persisting chat history on shutdown: %v", err)
			}
			return
		}
	}
}

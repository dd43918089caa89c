package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat-history.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, path
}

// TestAppendAndRoom tests ordered per-room append with assigned identifiers.
func TestAppendAndRoom(t *testing.T) {
	s, _ := openTestStore(t)

	s.Append("r1", Record{From: "r1", Text: "first", Room: "r1", Timestamp: 1})
	s.Append("r1", Record{From: "Admin", Text: "second", Room: "r1", Timestamp: 2})
	s.Append("r2", Record{From: "r2", Text: "elsewhere", Room: "r2", Timestamp: 3})

	records := s.Room("r1")
	if len(records) != 2 {
		t.Fatalf("Expected 2 records for r1, got %d", len(records))
	}
	if records[0].Text != "first" || records[1].Text != "second" {
		t.Errorf("Records out of order: %+v", records)
	}
	if records[0].ID == "" || records[1].ID == "" {
		t.Error("Expected assigned record identifiers")
	}
	if got := s.Room("missing"); got != nil {
		t.Errorf("Expected nil for unknown room, got %+v", got)
	}

	// The returned slice is a copy.
	records[0].Text = "mutated"
	if s.Room("r1")[0].Text != "first" {
		t.Error("Room returned a live reference to internal state")
	}
}

// TestPersistRoundTrip tests flush and reload through the JSON file.
func TestPersistRoundTrip(t *testing.T) {
	s, path := openTestStore(t)

	s.Append("r1", Record{ID: "01ARZ", From: "r1", Text: "hello", Room: "r1", Timestamp: 42})
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	records := reloaded.Room("r1")
	if len(records) != 1 || records[0].Text != "hello" || records[0].Timestamp != 42 {
		t.Errorf("Reloaded records differ: %+v", records)
	}
}

// TestPersistSkipsWhenClean tests that an unchanged store writes nothing.
func TestPersistSkipsWhenClean(t *testing.T) {
	s, path := openTestStore(t)

	if err := s.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Clean store still wrote a file")
	}

	s.Append("r1", Record{From: "r1", Text: "x", Room: "r1"})
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected file after dirty persist: %v", err)
	}
	mtime := info.ModTime()

	time.Sleep(10 * time.Millisecond)
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Error("Clean store rewrote the file")
	}
}

// TestOpenCorruptFile tests that a corrupt history file is tolerated.
func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat-history.json")
	if err := os.WriteFile(path, []byte("{{{ definitely not json"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open must tolerate a corrupt file, got %v", err)
	}
	if got := s.All(); len(got) != 0 {
		t.Errorf("Expected empty store, got %+v", got)
	}
}

// TestRunFlusherFinalFlush tests that cancelling the flusher performs a
// final flush.
func TestRunFlusherFinalFlush(t *testing.T) {
	s, path := openTestStore(t)
	s.Append("r1", Record{From: "r1", Text: "pending", Room: "r1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunFlusher(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Flusher did not stop after cancellation")
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if len(reloaded.Room("r1")) != 1 {
		t.Error("Final flush did not persist pending records")
	}
}

// TestAllReturnsCopies tests snapshot isolation of the full mapping.
func TestAllReturnsCopies(t *testing.T) {
	s, _ := openTestStore(t)
	s.Append("r1", Record{From: "r1", Text: "a", Room: "r1"})

	all := s.All()
	all["r1"][0].Text = "mutated"
	delete(all, "r1")

	if got := s.Room("r1"); len(got) != 1 || got[0].Text != "a" {
		t.Errorf("All leaked internal state: %+v", got)
	}
}

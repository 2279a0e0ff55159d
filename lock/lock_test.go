package lock

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"roomy.chat/kvstore"
)

func newManager(t *testing.T, holderID string) (*Manager, *kvstore.Store) {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, holderID), store
}

func TestAcquireRelease(t *testing.T) {
	m, _ := newManager(t, "proc-1")

	h, err := m.Acquire(context.Background(), "query-lock", Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestIfAvailableFailsWhenHeld(t *testing.T) {
	m, _ := newManager(t, "proc-1")

	h, err := m.Acquire(context.Background(), "query-lock", Options{})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	_, err = m.Acquire(context.Background(), "query-lock", Options{IfAvailable: true})
	if err != ErrUnavailable {
		t.Errorf("second Acquire(IfAvailable) = %v, want ErrUnavailable", err)
	}
}

func TestSameHolderReacquiresOwnLock(t *testing.T) {
	// Two Manager instances sharing the same holderID model two tasks
	// within the same process/worker identity (e.g. a restart that
	// reused the holder id before the old slot map existed).
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	defer store.Close()

	m1 := NewManager(store, "proc-1")
	h1, err := m1.Acquire(context.Background(), "query-lock", Options{})
	if err != nil {
		t.Fatalf("Acquire m1: %v", err)
	}
	defer h1.Release()

	m2 := NewManager(store, "proc-1")
	_, err = m2.Acquire(context.Background(), "query-lock", Options{IfAvailable: true})
	if err != nil {
		t.Fatalf("Acquire m2 as same holder: %v", err)
	}
}

func TestStaleHeartbeatIsStealable(t *testing.T) {
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	defer store.Close()

	m1 := NewManager(store, "proc-1")
	// Acquire and abandon without releasing, simulating a crash: the
	// heartbeat record is left behind with no live slot holder in a
	// fresh Manager for a different process.
	_, err = m1.Acquire(context.Background(), "query-lock", Options{})
	if err != nil {
		t.Fatalf("Acquire m1: %v", err)
	}

	// Back-date the heartbeat so it reads as stale without sleeping
	// StaleAfter in a test.
	rec := record{Holder: "proc-1", HeartbeatMs: nowMs() - StaleAfter.Milliseconds() - 1}
	b, _ := json.Marshal(rec)
	store.Open("locks").Put([]byte("query-lock"), b)

	m2 := NewManager(store, "proc-2")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h2, err := m2.Acquire(ctx, "query-lock", Options{})
	if err != nil {
		t.Fatalf("proc-2 should steal stale lock, got: %v", err)
	}
	h2.Release()
}

// Package lock implements the named advisory lock manager used to
// serialize the relational store's writer across concurrent tasks in
// one process and across separate processes sharing the same durable
// KV file. Within a process a buffered channel gives exclusivity
// cheaply; across processes a heartbeat record in the KV proves
// liveness, so a process that crashed while holding a lock doesn't
// wedge every other holder forever.
//
// The in-process half generalizes the keyed-mutex-per-area idiom: a
// lazily created exclusivity primitive keyed by name, shared by every
// caller that names the same lock.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"roomy.chat/kvstore"
)

// HeartbeatInterval is how often a held lock refreshes its liveness
// record in the durable KV.
const HeartbeatInterval = 2 * time.Second

// StaleAfter is how long a heartbeat may go unrefreshed before another
// holder is entitled to steal the lock.
const StaleAfter = 5 * time.Second

const pollInterval = 100 * time.Millisecond

// ErrUnavailable is returned by Acquire when Options.IfAvailable is
// set and the lock is currently held by someone else.
var ErrUnavailable = errors.New("lock: unavailable")

// Options configures an Acquire call.
type Options struct {
	// IfAvailable makes Acquire a non-blocking poll: if the lock isn't
	// free right now, return ErrUnavailable instead of waiting.
	IfAvailable bool
	// Timeout bounds how long Acquire waits before giving up with
	// context.DeadlineExceeded. Zero means wait until ctx ends.
	Timeout time.Duration
}

type record struct {
	Holder      string `json:"holder"`
	AcquiredMs  int64  `json:"acquiredMs"`
	HeartbeatMs int64  `json:"heartbeatMs"`
}

// Manager grants named locks to callers identified by a shared
// holderID (e.g. one per OS process or worker).
type Manager struct {
	heartbeats kvstore.Sublevel
	holderID   string

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewManager binds a Manager to a KV sublevel holding heartbeat
// records and a holderID identifying this process to peers.
func NewManager(store *kvstore.Store, holderID string) *Manager {
	return &Manager{
		heartbeats: store.Open("locks"),
		holderID:   holderID,
		slots:      make(map[string]chan struct{}),
	}
}

func (m *Manager) slot(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[name]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[name] = s
	}
	return s
}

// Held is a granted lock; the caller must call Release when done.
type Held struct {
	name    string
	mgr     *Manager
	slot    chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

// Acquire grants the named lock, blocking (subject to ctx and
// Options.Timeout) until it is free or stale enough to steal.
func (m *Manager) Acquire(ctx context.Context, name string, opts Options) (*Held, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s := m.slot(name)

	for {
		select {
		case s <- struct{}{}:
			ok, err := m.tryClaim(name)
			if err != nil {
				<-s
				return nil, err
			}
			if !ok {
				<-s
				if opts.IfAvailable {
					return nil, ErrUnavailable
				}
				if err := waitOrErr(ctx, pollInterval); err != nil {
					return nil, err
				}
				continue
			}
			h := &Held{name: name, mgr: m, slot: s, stop: make(chan struct{})}
			go h.heartbeatLoop()
			return h, nil
		default:
			if opts.IfAvailable {
				return nil, ErrUnavailable
			}
			if err := waitOrErr(ctx, pollInterval); err != nil {
				return nil, err
			}
		}
	}
}

// tryClaim checks the durable record: absent, stale, or already owned
// by this holder all count as a successful claim.
func (m *Manager) tryClaim(name string) (bool, error) {
	now := nowMs()
	raw, err := m.heartbeats.Get([]byte(name))
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return false, err
	}

	if err == nil {
		var rec record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			fresh := now-rec.HeartbeatMs < StaleAfter.Milliseconds()
			if fresh && rec.Holder != m.holderID {
				return false, nil
			}
		}
	}

	rec := record{Holder: m.holderID, AcquiredMs: now, HeartbeatMs: now}
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := m.heartbeats.Put([]byte(name), b); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Held) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			rec := record{Holder: h.mgr.holderID, HeartbeatMs: nowMs()}
			b, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			h.mgr.heartbeats.Put([]byte(h.name), b)
		}
	}
}

// Release gives up the lock, clearing its durable record and the
// in-process slot so the next waiter (local or remote) can claim it.
func (h *Held) Release() error {
	var err error
	h.stopped.Do(func() {
		close(h.stop)
		err = h.mgr.heartbeats.Delete([]byte(h.name))
		<-h.slot
	})
	return err
}

func waitOrErr(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

package transport

import (
	"context"
	"log/slog"
	"sync"

	"roomy.chat/materializer"
	"roomy.chat/model"
	"roomy.chat/sqlstore"
)

// OpenStream opens (or creates) the per-stream SQLite database and
// wires a fresh Materializer against it — one materializer instance
// per open stream, so each newly-subscribed space never touches
// another space's rows. Callers own the returned DB's lifetime via
// StreamHandle.Close.
type OpenStream func(streamID model.StreamID) (*sqlstore.DB, error)

// StreamHandle bundles everything the Subscription Manager keeps alive
// per open (non-personal) stream.
type StreamHandle struct {
	DB           *sqlstore.DB
	Materializer *materializer.Materializer
	cancel       context.CancelFunc
}

// SubscriptionManager derives the set of currently-subscribed
// non-personal streams from a live query over the personal stream's
// `comp_space where hidden = 0` and keeps StreamClient.Subscribe /
// Unsubscribe (plus each stream's Backfiller) in sync with it.
type SubscriptionManager struct {
	client    StreamClient
	personal  *sqlstore.DB
	open      OpenStream
	backend   materializer.Backend
	log       *slog.Logger

	mu     sync.Mutex
	opened map[model.StreamID]*StreamHandle
}

// NewSubscriptionManager wires a manager whose freshly-opened streams
// each get a Materializer backed by the same profile-fetch backend
// (the identity system's client) the caller already has.
func NewSubscriptionManager(client StreamClient, personal *sqlstore.DB, open OpenStream, backend materializer.Backend, log *slog.Logger) *SubscriptionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionManager{
		client:   client,
		personal: personal,
		open:     open,
		backend:  backend,
		log:      log,
		opened:   make(map[model.StreamID]*StreamHandle),
	}
}

// Run registers the live query and blocks until ctx is done, closing
// every still-open stream on the way out.
func (sm *SubscriptionManager) Run(ctx context.Context) error {
	err := sm.personal.CreateLiveQuery(ctx, "open-spaces", []string{"comp_space", "entities"},
		sqlstore.Statement{
			Query: `SELECT entities.stream_id AS stream_id FROM comp_space
				JOIN entities ON entities.id = comp_space.entity
				WHERE comp_space.hidden = 0`,
		},
		func(rows []map[string]any) {
			wanted := make(map[model.StreamID]bool, len(rows))
			for _, r := range rows {
				if s, ok := r["stream_id"].(string); ok && s != "" {
					wanted[model.StreamID(s)] = true
				}
			}
			sm.reconcile(ctx, wanted)
		},
	)
	if err != nil {
		return err
	}
	defer sm.personal.DeleteLiveQuery("open-spaces")

	<-ctx.Done()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, h := range sm.opened {
		h.cancel()
		h.DB.Close()
		delete(sm.opened, id)
	}
	return nil
}

// reconcile diffs wanted against the currently-open set and drives
// subscribe(new) / unsubscribe(removed).
func (sm *SubscriptionManager) reconcile(ctx context.Context, wanted map[model.StreamID]bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for streamID := range wanted {
		if _, already := sm.opened[streamID]; already {
			continue
		}
		if err := sm.client.Subscribe(ctx, streamID); err != nil {
			sm.log.Error("subscribe failed", "stream", streamID, "error", err)
			continue
		}
		handle, err := sm.openStream(ctx, streamID)
		if err != nil {
			sm.log.Error("open stream failed", "stream", streamID, "error", err)
			continue
		}
		sm.opened[streamID] = handle
	}

	for streamID, handle := range sm.opened {
		if wanted[streamID] {
			continue
		}
		if err := sm.client.Unsubscribe(ctx, streamID); err != nil {
			sm.log.Error("unsubscribe failed", "stream", streamID, "error", err)
		}
		handle.cancel()
		handle.DB.Close()
		delete(sm.opened, streamID)
	}
}

func (sm *SubscriptionManager) openStream(ctx context.Context, streamID model.StreamID) (*StreamHandle, error) {
	db, err := sm.open(streamID)
	if err != nil {
		return nil, err
	}
	if err := materializer.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	mat := materializer.NewMaterializer(db, sm.backend, sm.log)
	go mat.Run(streamCtx)

	backfiller := NewBackfiller(sm.client, mat, streamID, lastAppliedFor(ctx, db), sm.log)
	pushes := make(chan RawEventEnvelope)
	go func() {
		defer close(pushes)
		<-streamCtx.Done()
	}()
	go backfiller.Run(streamCtx, pushes)

	return &StreamHandle{DB: db, Materializer: mat, cancel: cancel}, nil
}

// lastAppliedFor reads comp_space.backfilled_to for the stream's
// RootEntity row, 0 for a never-opened stream.
func lastAppliedFor(ctx context.Context, db *sqlstore.DB) uint64 {
	rows, err := db.Query(ctx, sqlstore.Statement{
		Query: `SELECT backfilled_to FROM comp_space WHERE entity = ?`,
		Args:  []any{materializer.RootEntity},
	})
	if err != nil || len(rows) == 0 {
		return 0
	}
	switch v := rows[0]["backfilled_to"].(type) {
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

package materializer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"roomy.chat/model"
	"roomy.chat/queue"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
	"roomy.chat/wire"
)

// NewMaterializer wires a Materializer's two worker loops against db.
// Call Run to start them and Submit to enqueue batches; both loops
// exit once ctx is done.
func NewMaterializer(db *sqlstore.DB, backend Backend, log *slog.Logger) *Materializer {
	if log == nil {
		log = slog.Default()
	}
	return &Materializer{
		db:       db,
		enricher: NewProfileEnricher(db, backend),
		log:      log,
		eventCh:  queue.New[Batch](256),
		stmtCh:   queue.New[materializedBatch](256),
		pending:  make(map[string]chan Result),
	}
}

// Run starts the materialize and apply loops; it returns once ctx is
// canceled and both loops have drained.
func (m *Materializer) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.materializeLoop(ctx)
		close(done)
	}()
	m.applyLoop(ctx)
	<-done
}

// Submit enqueues batch and returns a channel that receives its Result
// exactly once, after the apply loop commits it.
func (m *Materializer) Submit(ctx context.Context, batch Batch) (<-chan Result, error) {
	results := make(chan Result, 1)
	m.pendingMu.Lock()
	m.pending[batch.ID] = results
	m.pendingMu.Unlock()

	if err := m.eventCh.Push(ctx, batch.Priority, batch); err != nil {
		m.pendingMu.Lock()
		delete(m.pending, batch.ID)
		m.pendingMu.Unlock()
		return nil, err
	}
	return results, nil
}

// Stop signals both loops to finish after draining what's queued.
func (m *Materializer) Stop() {
	m.eventCh.Finish()
	m.stmtCh.Finish()
}

func (m *Materializer) materializeLoop(ctx context.Context) {
	defer m.stmtCh.Finish()
	for {
		batch, ok := m.eventCh.Next(ctx)
		if !ok {
			return
		}

		dids := make([]model.UserDid, 0, len(batch.Events))
		seen := make(map[model.UserDid]bool)
		for _, ie := range batch.Events {
			if !seen[ie.Author] {
				seen[ie.Author] = true
				dids = append(dids, ie.Author)
			}
		}
		ensureStmts, err := m.enricher.Ensure(ctx, dids)
		if err != nil {
			m.log.Error("profile enrichment failed", "batch", batch.ID, "error", err)
		}

		bundles := make([]Bundle, 0, len(batch.Events)+1)
		if len(ensureStmts) > 0 {
			bundles = append(bundles, Bundle{Kind: BundleProfileEnsure, Statements: ensureStmts, Dids: dids})
		}

		for _, ie := range batch.Events {
			if _, unknown := ie.Event.(wire.Unknown); unknown {
				m.log.Warn("skipping unrecognized event type", "stream", batch.StreamID, "type", ie.Event.Type())
				continue
			}
			bundle, err := Materialize(ie.Event, batch.StreamID, ie.Author, ie.Idx, m.enricher.Resolve)
			if err != nil {
				bundle = errBundle(ie.Event.ID(), ie.Idx, err.Error())
			}
			bundle.Raw = ie.Raw
			bundles = append(bundles, bundle)
		}

		mb := materializedBatch{id: batch.ID, streamID: batch.StreamID, priority: batch.Priority, bundles: bundles}
		if err := m.stmtCh.Push(ctx, batch.Priority, mb); err != nil {
			return
		}
	}
}

func (m *Materializer) applyLoop(ctx context.Context) {
	for {
		mb, ok := m.stmtCh.Next(ctx)
		if !ok {
			return
		}
		result, unstash := m.apply(ctx, mb)

		m.pendingMu.Lock()
		ch, found := m.pending[mb.id]
		delete(m.pending, mb.id)
		m.pendingMu.Unlock()
		if found {
			ch <- result
		}

		for _, id := range unstash {
			m.triggerUnstash(ctx, mb.streamID, id)
		}
	}
}

// apply runs every bundle in mb inside one batch<id> savepoint and
// reports which previously-stashed event ids just became satisfied,
// so the caller can kick off their unstash batches.
func (m *Materializer) apply(ctx context.Context, mb materializedBatch) (Result, []sid.ID) {
	result := Result{BatchID: mb.id}
	var newlySatisfied []sid.ID
	var maxIdx uint64

	err := m.db.WithWriteLock(ctx, func(tx *sqlstore.Tx) error {
		return tx.Savepoint(ctx, savepointName("batch", mb.id), func(tx *sqlstore.Tx) error {
			for i, bundle := range mb.bundles {
				if bundle.Kind == BundleProfileEnsure {
					for _, stmt := range bundle.Statements {
						if _, err := tx.Execute(ctx, stmt); err != nil {
							m.log.Error("profile ensure statement failed", "batch", mb.id, "error", err)
						}
					}
					continue
				}

				applied := m.applyBundle(ctx, tx, mb.streamID, bundle, i)
				result.Bundles = append(result.Bundles, BundleResult{EventID: bundle.EventID, Applied: applied})
				if applied {
					newlySatisfied = append(newlySatisfied, bundle.EventID)
					if bundle.Idx > maxIdx {
						maxIdx = bundle.Idx
					}
				}
			}

			if maxIdx > 0 {
				if _, err := tx.Execute(ctx, sqlstore.Statement{
					Query: `INSERT INTO entities (id, stream_id, created_at, updated_at) VALUES (?, ?, ?, ?)
						ON CONFLICT(id) DO NOTHING`,
					Args:  []any{RootEntity, string(mb.streamID), nowMs(), nowMs()},
					Table: "entities",
				}); err != nil {
					return err
				}
				if _, err := tx.Execute(ctx, sqlstore.Statement{
					Query: `INSERT INTO comp_space (entity, backfilled_to, hidden) VALUES (?, ?, 0)
						ON CONFLICT(entity) DO UPDATE SET backfilled_to = excluded.backfilled_to
						WHERE excluded.backfilled_to > comp_space.backfilled_to`,
					Args:  []any{RootEntity, maxIdx},
					Table: "comp_space",
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		m.log.Error("batch apply failed", "batch", mb.id, "error", err)
	}

	return result, newlySatisfied
}

// applyBundle runs one event's statements in a nested savepoint, then
// records the event row and (on success) its sort position regardless
// of whether the nested savepoint rolled back — a failed bundle still
// needs an applied=false row so dependents stay correctly stashed.
func (m *Materializer) applyBundle(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, bundle Bundle, seq int) bool {
	satisfied, err := dependenciesSatisfied(ctx, tx, bundle.DependsOn)
	if err != nil {
		m.log.Error("dependency check failed", "event", bundle.EventID, "error", err)
	}

	var applyErr error
	if bundle.Kind == BundleError {
		applyErr = fmt.Errorf("%s", bundle.Message)
	} else if !satisfied {
		applyErr = fmt.Errorf("materializer: unsatisfied dependency")
	} else {
		applyErr = tx.Savepoint(ctx, savepointName("bundle", fmt.Sprintf("%d", seq)), func(tx *sqlstore.Tx) error {
			for _, stmt := range bundle.Statements {
				if _, err := tx.Execute(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		})
	}

	applied := applyErr == nil
	if applyErr != nil {
		m.log.Warn("event apply failed", "event", bundle.EventID, "error", applyErr)
	}

	dependsJSON, _ := json.Marshal(bundle.DependsOn)
	raw := bundle.Raw
	if raw == nil {
		// A nil slice binds as NULL, which payload_json rejects.
		raw = []byte{}
	}
	if _, err := tx.Execute(ctx, sqlstore.Statement{
		Query: `INSERT INTO events (idx, stream_id, entity_ulid, payload_json, applied, depends_on)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(stream_id, idx) DO UPDATE SET applied = excluded.applied, depends_on = excluded.depends_on`,
		Args:  []any{bundle.Idx, string(streamID), bundle.EventID, raw, applied, string(dependsJSON)},
		Table: "events",
	}); err != nil {
		m.log.Error("event row insert failed", "event", bundle.EventID, "error", err)
	}

	if applied && bundle.Positioned != sid.Nil {
		if err := materializePosition(ctx, tx, streamID, bundle.Positioned, bundle.After); err != nil {
			m.log.Error("sort-position materialization failed", "entity", bundle.Positioned, "error", err)
		}
	}

	if applied && bundle.LinkURL != "" {
		m.enrichLinkPreview(context.WithoutCancel(ctx), bundle.EventID, bundle.LinkURL)
	}

	return applied
}

// dependenciesSatisfied reports whether every id in deps already has
// a row in the entities table. A bundle that applied earlier in this
// same batch has already inserted its entity row, since bundles run in
// order, so it counts as well as one from a prior batch.
func dependenciesSatisfied(ctx context.Context, tx *sqlstore.Tx, deps []sid.ID) (bool, error) {
	for _, dep := range deps {
		rows, err := tx.Query(ctx, sqlstore.Statement{
			Query: `SELECT 1 FROM entities WHERE id = ?`,
			Args:  []any{dep},
		})
		if err != nil {
			return false, err
		}
		if len(rows) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// triggerUnstash scans for stashed (applied = 0) events whose
// depends_on mentions id and logs how many it found. It does not
// re-submit them: no BatchUnstash batch is built, so a stashed event
// stays unapplied until it is submitted again from outside.
func (m *Materializer) triggerUnstash(ctx context.Context, streamID model.StreamID, id sid.ID) {
	rows, err := m.db.Query(ctx, sqlstore.Statement{
		Query: `SELECT idx FROM events WHERE stream_id = ? AND applied = 0 AND depends_on LIKE '%' || ? || '%'`,
		Args:  []any{string(streamID), id.String()},
	})
	if err != nil {
		m.log.Error("unstash scan failed", "stream", streamID, "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	m.log.Info("events newly unstashable", "stream", streamID, "count", len(rows), "satisfied_by", id)
}

func savepointName(prefix, id string) string {
	clean := make([]byte, 0, len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			clean = append(clean, byte(r))
		}
	}
	return prefix + "_" + string(clean)
}

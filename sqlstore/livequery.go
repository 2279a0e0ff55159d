package sqlstore

import "context"

// Sink receives the refreshed row set of a live query every time one
// of its dependency tables changes.
type Sink func(rows []map[string]any)

type liveQuery struct {
	id     string
	stmt   Statement
	tables []string
	sink   Sink
}

// CreateLiveQuery registers a query that re-runs and pushes to sink
// whenever a write touches one of tables. It runs once immediately so
// the sink starts with the current result set. tables must list every
// table stmt reads from; the facility does no SQL parsing of its own.
func (db *DB) CreateLiveQuery(ctx context.Context, id string, tables []string, stmt Statement, sink Sink) error {
	rows, err := db.Query(ctx, stmt)
	if err != nil {
		return err
	}

	db.lqMu.Lock()
	db.liveQueries[id] = &liveQuery{id: id, stmt: stmt, tables: tables, sink: sink}
	db.lqMu.Unlock()

	sink(rows)
	return nil
}

// DeleteLiveQuery unregisters a previously created live query. A
// no-op if id is unknown.
func (db *DB) DeleteLiveQuery(id string) {
	db.lqMu.Lock()
	delete(db.liveQueries, id)
	db.lqMu.Unlock()
}

// notifyWrite re-runs every live query whose table set intersects
// touched, unless notifications are currently disabled (mid-batch).
func (db *DB) notifyWrite(touched map[string]bool) {
	if db.notifyDisabled.Load() || len(touched) == 0 {
		return
	}

	db.lqMu.RLock()
	var matched []*liveQuery
	for _, lq := range db.liveQueries {
		for _, t := range lq.tables {
			if touched[t] {
				matched = append(matched, lq)
				break
			}
		}
	}
	db.lqMu.RUnlock()

	for _, lq := range matched {
		rows, err := db.Query(context.Background(), lq.stmt)
		if err != nil {
			continue
		}
		lq.sink(rows)
	}
}

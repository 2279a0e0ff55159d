// Package sqlstore wraps an embedded SQLite database with the
// relational-store contract the materializer and bridge build on:
// prepared statements, nested savepoints serialized behind a single
// named write lock, user-defined functions, and a live-query facility
// that re-runs a query whenever a table it depends on changes.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"roomy.chat/lock"
)

// QueryLockName is the process-wide named lock every write batch
// acquires before touching the database. Without it, nested savepoints
// from concurrent callers interleave and corrupt state.
const QueryLockName = "query-lock"

var driverSeq int64

// DB is one open SQLite database plus its lock manager and live-query
// registry.
type DB struct {
	sql   *sql.DB
	locks *lock.Manager

	stmtMu    sync.Mutex
	stmtCache map[string]*sql.Stmt

	lqMu           sync.RWMutex
	liveQueries    map[string]*liveQuery
	notifyDisabled atomic.Bool
}

// Open opens (creating if absent) a SQLite file at path, wiring in the
// required UDFs plus any caller-supplied extras. locks serializes
// writers across every DB opened against the same lock.Manager.
func Open(path string, locks *lock.Manager, extra ...UDF) (*DB, error) {
	name := fmt.Sprintf("sqlite3_roomy_%d", atomic.AddInt64(&driverSeq, 1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := registerCoreUDFs(conn); err != nil {
				return err
			}
			for _, u := range extra {
				if err := conn.RegisterFunc(u.Name, u.Fn, u.Pure); err != nil {
					return fmt.Errorf("sqlstore: register udf %s: %w", u.Name, err)
				}
			}
			return nil
		},
	})

	sqlDB, err := sql.Open(name, path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// SQLite allows only one writer; a single pooled connection keeps
	// every statement on the same connection so savepoints nest
	// correctly, and the named query lock covers cross-process writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{
		sql:         sqlDB,
		locks:       locks,
		stmtCache:   make(map[string]*sql.Stmt),
		liveQueries: make(map[string]*liveQuery),
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Statement is one parameterized SQL write or read. Table names the
// table it writes to, if any — used to invalidate live queries without
// parsing SQL.
type Statement struct {
	Query string
	Args  []any
	Table string
}

// QueryResult reports the effect of one Execute call.
type QueryResult struct {
	LastInsertID int64
	RowsAffected int64
}

func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtMu.Lock()
	defer db.stmtMu.Unlock()
	if s, ok := db.stmtCache[query]; ok {
		return s, nil
	}
	s, err := db.sql.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	db.stmtCache[query] = s
	return s, nil
}

// Execute runs stmt directly against the database, outside any
// explicit transaction. Use Begin + Tx.Execute for multi-statement
// batches so they share one connection's savepoint stack.
func (db *DB) Execute(ctx context.Context, stmt Statement) (QueryResult, error) {
	s, err := db.prepare(ctx, stmt.Query)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := s.ExecContext(ctx, stmt.Args...)
	if err != nil {
		return QueryResult{}, err
	}
	return resultOf(res), nil
}

// Query runs a read-only statement and returns each row as a
// column-name-keyed map, in result order.
func (db *DB) Query(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	s, err := db.prepare(ctx, stmt.Query)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func resultOf(res sql.Result) QueryResult {
	id, _ := res.LastInsertId()
	n, _ := res.RowsAffected()
	return QueryResult{LastInsertID: id, RowsAffected: n}
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// WithWriteLock acquires the process-wide query lock, disables live
// query re-execution, runs fn against a fresh transaction, commits on
// success (rolling back on error), then re-enables live queries and
// fires one re-execution pass over every query whose tables fn
// touched.
func (db *DB) WithWriteLock(ctx context.Context, fn func(*Tx) error) error {
	held, err := db.locks.Acquire(ctx, QueryLockName, lock.Options{})
	if err != nil {
		return fmt.Errorf("sqlstore: acquire query lock: %w", err)
	}
	defer held.Release()

	db.notifyDisabled.Store(true)
	defer db.notifyDisabled.Store(false)

	tx, err := db.begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.tx.Rollback()
		return err
	}
	if err := tx.tx.Commit(); err != nil {
		return err
	}
	db.notifyDisabled.Store(false)
	db.notifyWrite(tx.touched)
	return nil
}

func (db *DB) begin(ctx context.Context) (*Tx, error) {
	sqlTx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: sqlTx, touched: make(map[string]bool)}, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// Tx is one SQLite transaction, open for nested SAVEPOINTs. Obtained
// only via DB.WithWriteLock, which holds the query lock for its
// lifetime.
type Tx struct {
	tx      *sql.Tx
	touched map[string]bool
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Savepoint opens a nested SAVEPOINT named name, runs fn, and releases
// it on success or rolls back to it (then releases) on error or panic.
// Savepoints nest arbitrarily: a batch<id> savepoint wraps one
// bundle<id> savepoint per event in the batch.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func(*Tx) error) (err error) {
	if !identRe.MatchString(name) {
		return fmt.Errorf("sqlstore: invalid savepoint name %q", name)
	}

	if _, err = t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("sqlstore: open savepoint %s: %w", name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			t.tx.ExecContext(ctx, "ROLLBACK TO "+name)
			t.tx.ExecContext(ctx, "RELEASE "+name)
			panic(r)
		}
	}()

	if err = fn(t); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return fmt.Errorf("sqlstore: rollback savepoint %s: %w (original: %v)", name, rbErr, err)
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return fmt.Errorf("sqlstore: release savepoint %s after rollback: %w (original: %v)", name, relErr, err)
		}
		return err
	}

	if _, err = t.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("sqlstore: release savepoint %s: %w", name, err)
	}
	return nil
}

// Execute runs stmt within this transaction, recording stmt.Table for
// post-commit live-query invalidation.
func (t *Tx) Execute(ctx context.Context, stmt Statement) (QueryResult, error) {
	res, err := t.tx.ExecContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return QueryResult{}, err
	}
	if stmt.Table != "" {
		t.touched[stmt.Table] = true
	}
	return resultOf(res), nil
}

// Query runs a read-only statement within this transaction.
func (t *Tx) Query(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

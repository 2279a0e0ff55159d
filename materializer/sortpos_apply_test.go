package materializer

import (
	"context"
	"testing"

	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

func insertBareEntity(t *testing.T, ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, id sid.ID) {
	t.Helper()
	if _, err := tx.Execute(ctx, sqlstore.Statement{
		Query: `INSERT INTO entities (id, stream_id, created_at, updated_at) VALUES (?, ?, 0, 0)`,
		Args:  []any{id, string(streamID)},
		Table: "entities",
	}); err != nil {
		t.Fatalf("insert entity: %v", err)
	}
}

func orderedIDs(t *testing.T, ctx context.Context, db *sqlstore.DB, streamID model.StreamID) []string {
	t.Helper()
	rows, err := db.Query(ctx, sqlstore.Statement{
		Query: `SELECT id FROM entities WHERE stream_id = ? ORDER BY sort_idx, id`,
		Args:  []any{string(streamID)},
	})
	if err != nil {
		t.Fatalf("query order: %v", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}

func TestSortPositionMoveReordersAfterPredecessor(t *testing.T) {
	_, db := newTestMaterializer(t)
	ctx := context.Background()
	streamID := model.StreamID("did:plc:space1")

	x := sid.MustParse("00000000000000000000000001")
	y := sid.MustParse("00000000000000000000000002")
	z := sid.MustParse("00000000000000000000000003")

	err := db.WithWriteLock(ctx, func(tx *sqlstore.Tx) error {
		insertBareEntity(t, ctx, tx, streamID, x)
		insertBareEntity(t, ctx, tx, streamID, y)
		insertBareEntity(t, ctx, tx, streamID, z)
		if err := materializePosition(ctx, tx, streamID, x, sid.Nil); err != nil {
			return err
		}
		if err := materializePosition(ctx, tx, streamID, y, sid.Nil); err != nil {
			return err
		}
		return materializePosition(ctx, tx, streamID, z, sid.Nil)
	})
	if err != nil {
		t.Fatalf("initial positioning: %v", err)
	}

	got := orderedIDs(t, ctx, db, streamID)
	want := []string{x.String(), y.String(), z.String()}
	if !equalSlices(got, want) {
		t.Fatalf("initial order = %v, want %v", got, want)
	}

	// move Z after X.
	err = db.WithWriteLock(ctx, func(tx *sqlstore.Tx) error {
		return materializePosition(ctx, tx, streamID, z, x)
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	got = orderedIDs(t, ctx, db, streamID)
	want = []string{x.String(), z.String(), y.String()}
	if !equalSlices(got, want) {
		t.Fatalf("order after move = %v, want %v", got, want)
	}
}

func TestSortPositionMoveIsIdempotent(t *testing.T) {
	_, db := newTestMaterializer(t)
	ctx := context.Background()
	streamID := model.StreamID("did:plc:space1")

	x := sid.MustParse("00000000000000000000000001")
	z := sid.MustParse("00000000000000000000000003")

	err := db.WithWriteLock(ctx, func(tx *sqlstore.Tx) error {
		insertBareEntity(t, ctx, tx, streamID, x)
		insertBareEntity(t, ctx, tx, streamID, z)
		if err := materializePosition(ctx, tx, streamID, x, sid.Nil); err != nil {
			return err
		}
		return materializePosition(ctx, tx, streamID, z, x)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	before := orderedIDs(t, ctx, db, streamID)

	err = db.WithWriteLock(ctx, func(tx *sqlstore.Tx) error {
		return materializePosition(ctx, tx, streamID, z, x)
	})
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	after := orderedIDs(t, ctx, db, streamID)

	if !equalSlices(before, after) {
		t.Errorf("repeated identical move changed order: before=%v after=%v", before, after)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

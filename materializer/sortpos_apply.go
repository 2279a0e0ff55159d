package materializer

import (
	"context"
	"fmt"

	"roomy.chat/materializer/sortpos"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

// materializePosition assigns entity a sort_idx immediately after
// after (or after its natural predecessor, if after is zero), then
// re-positions any entity already waiting on entity via its own after
// column.
//
// The cascade is one level deep: when entity moves, an entity C with
// after=entity takes entity's new sort_idx, but an entity D with
// after=C keeps its old one. Moving entity after the same anchor again
// yields the same sort_idx, since the successor lookup skips entity.
func materializePosition(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, entity, after sid.ID) error {
	pred, predSort, err := predecessorOf(ctx, tx, streamID, entity, after)
	if err != nil {
		return err
	}
	if after != sid.Nil && pred == sid.Nil {
		// after named an entity that doesn't exist (yet, or ever) in
		// this stream: skip silently, per the missing-parent rule.
		return nil
	}

	succSort, err := successorSortIdx(ctx, tx, streamID, entity, pred)
	if err != nil {
		return err
	}

	newIdx := sortpos.Midpoint(predSort, succSort)
	if _, err := tx.Execute(ctx, sqlstore.Statement{
		Query: `UPDATE entities SET sort_idx = ?, after = ? WHERE id = ?`,
		Args:  []any{newIdx, nullID(after), entity},
		Table: "entities",
	}); err != nil {
		return err
	}

	return cascadeAfter(ctx, tx, streamID, entity, newIdx)
}

// predecessorOf resolves the predecessor entity id plus the sort bound
// to use in its place (its sort_idx if positioned, else its own id
// string — entity ids and sort-idx strings share an alphabet large
// enough that comparisons between the two stay meaningful).
func predecessorOf(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, entity, after sid.ID) (pred sid.ID, bound string, err error) {
	if after != sid.Nil {
		rows, err := tx.Query(ctx, sqlstore.Statement{
			Query: `SELECT id, sort_idx FROM entities WHERE id = ? AND stream_id = ?`,
			Args:  []any{after, string(streamID)},
		})
		if err != nil {
			return sid.Nil, "", err
		}
		if len(rows) == 0 {
			return sid.Nil, "", nil
		}
		return after, boundOf(after, rows[0]["sort_idx"]), nil
	}

	rows, err := tx.Query(ctx, sqlstore.Statement{
		Query: `SELECT id, sort_idx FROM entities WHERE stream_id = ? AND id < ? ORDER BY id DESC LIMIT 1`,
		Args:  []any{string(streamID), entity},
	})
	if err != nil {
		return sid.Nil, "", err
	}
	if len(rows) == 0 {
		return sid.Nil, "", nil
	}
	id, perr := sid.Parse(rows[0]["id"].(string))
	if perr != nil {
		return sid.Nil, "", fmt.Errorf("materializer: parse predecessor id: %w", perr)
	}
	return id, boundOf(id, rows[0]["sort_idx"]), nil
}

// successorSortIdx finds the sort_idx currently sorting immediately
// after pred (excluding entity itself). An empty pred means "no
// predecessor": the successor is the stream's current first entity.
func successorSortIdx(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, entity, pred sid.ID) (string, error) {
	var rows []map[string]any
	var err error
	if pred == sid.Nil {
		rows, err = tx.Query(ctx, sqlstore.Statement{
			Query: `SELECT sort_idx FROM entities WHERE stream_id = ? AND id != ? AND sort_idx IS NOT NULL AND sort_idx != '' ORDER BY sort_idx ASC LIMIT 1`,
			Args:  []any{string(streamID), entity},
		})
	} else {
		predSort, perr := predecessorSortIdx(ctx, tx, streamID, pred)
		if perr != nil {
			return "", perr
		}
		rows, err = tx.Query(ctx, sqlstore.Statement{
			Query: `SELECT sort_idx FROM entities WHERE stream_id = ? AND id != ? AND sort_idx > ? ORDER BY sort_idx ASC LIMIT 1`,
			Args:  []any{string(streamID), entity, predSort},
		})
	}
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	s, _ := rows[0]["sort_idx"].(string)
	return s, nil
}

func predecessorSortIdx(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, pred sid.ID) (string, error) {
	rows, err := tx.Query(ctx, sqlstore.Statement{
		Query: `SELECT sort_idx FROM entities WHERE id = ? AND stream_id = ?`,
		Args:  []any{pred, string(streamID)},
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return pred.String(), nil
	}
	return boundOf(pred, rows[0]["sort_idx"]), nil
}

func boundOf(id sid.ID, sortIdx any) string {
	if s, ok := sortIdx.(string); ok && s != "" {
		return s
	}
	return id.String()
}

// cascadeAfter re-positions every entity whose stored after points at
// entity: they share entity's own sort_idx, their id breaking ties at
// read time (ORDER BY sort_idx, id).
func cascadeAfter(ctx context.Context, tx *sqlstore.Tx, streamID model.StreamID, entity sid.ID, sortIdx string) error {
	rows, err := tx.Query(ctx, sqlstore.Statement{
		Query: `SELECT id FROM entities WHERE after = ? AND stream_id = ?`,
		Args:  []any{entity, string(streamID)},
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		childStr, _ := row["id"].(string)
		child, perr := sid.Parse(childStr)
		if perr != nil {
			continue
		}
		if _, err := tx.Execute(ctx, sqlstore.Statement{
			Query: `UPDATE entities SET sort_idx = ? WHERE id = ?`,
			Args:  []any{sortIdx, child},
			Table: "entities",
		}); err != nil {
			return err
		}
	}
	return nil
}

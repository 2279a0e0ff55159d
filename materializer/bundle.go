package materializer

import (
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

// BundleKind discriminates the three shapes materialize can return.
type BundleKind int

const (
	BundleSuccess BundleKind = iota
	BundleProfileEnsure
	BundleError
)

// Bundle is the materializer's output for one event: the SQL
// statements needed to apply it, plus anything the apply loop needs to
// enforce the dependency and profile-enrichment policies.
type Bundle struct {
	Kind       BundleKind
	EventID    sid.ID
	Idx        uint64
	Statements []sqlstore.Statement
	DependsOn  []sid.ID
	Positioned sid.ID          // non-zero entity id needing sort-position materialization
	After      sid.ID          // manual reordering anchor for Positioned, zero means "natural predecessor"
	Raw        []byte          // original wire payload, kept for the events table's replay column
	LinkURL    string          // non-empty triggers an async OG-metadata fetch once applied
	Dids       []model.UserDid // BundleProfileEnsure only
	Message    string          // BundleError only
}

// Resolver maps an author/referenced DID to the entity id its profile
// was materialized under. The batch orchestrator guarantees every DID
// an event needs has already been resolved via profile enrichment
// before materialize runs.
type Resolver func(model.UserDid) (sid.ID, bool)

func ensureEntity(id sid.ID, streamID model.StreamID, parent sid.ID, nowMs int64) sqlstore.Statement {
	return sqlstore.Statement{
		Query: `INSERT INTO entities (id, stream_id, parent, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		Args:  []any{id, string(streamID), nullID(parent), nowMs, nowMs},
		Table: "entities",
	}
}

func insertEdge(head, tail sid.ID, label model.EdgeLabel, payload string) sqlstore.Statement {
	return sqlstore.Statement{
		Query: `INSERT INTO edges (head, tail, label, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT(head, tail, label) DO UPDATE SET payload = excluded.payload`,
		Args:  []any{head, tail, string(label), payload},
		Table: "edges",
	}
}

func deleteEdge(head, tail sid.ID, label model.EdgeLabel) sqlstore.Statement {
	return sqlstore.Statement{
		Query: `DELETE FROM edges WHERE head = ? AND tail = ? AND label = ?`,
		Args:  []any{head, tail, string(label)},
		Table: "edges",
	}
}

func nullID(id sid.ID) any {
	if id.IsZero() {
		return nil
	}
	return id
}

func errBundle(eventID sid.ID, idx uint64, msg string) Bundle {
	return Bundle{Kind: BundleError, EventID: eventID, Idx: idx, Message: msg}
}

package materializer

import (
	"context"

	"roomy.chat/sqlstore"
)

// ddl is the full set of tables a stream's relational projection
// needs: the universal entity/edge/event tables plus one comp_* table
// per component kind.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		parent TEXT,
		sort_idx TEXT,
		after TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_after ON entities(after)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_stream ON entities(stream_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent)`,

	`CREATE TABLE IF NOT EXISTS edges (
		head TEXT NOT NULL,
		tail TEXT NOT NULL,
		label TEXT NOT NULL,
		payload TEXT,
		PRIMARY KEY (head, tail, label)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_tail ON edges(tail, label)`,

	`CREATE TABLE IF NOT EXISTS events (
		idx INTEGER NOT NULL,
		stream_id TEXT NOT NULL,
		user TEXT,
		entity_ulid TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		applied INTEGER NOT NULL,
		depends_on TEXT,
		PRIMARY KEY (stream_id, idx)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_unapplied ON events(stream_id, applied)`,

	`CREATE TABLE IF NOT EXISTS comp_room (
		entity TEXT PRIMARY KEY, name TEXT NOT NULL, kind TEXT NOT NULL, deleted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS comp_space (
		entity TEXT PRIMARY KEY, backfilled_to INTEGER NOT NULL DEFAULT 0, hidden INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS comp_info (
		entity TEXT PRIMARY KEY, name TEXT, description TEXT, image TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS comp_content (
		entity TEXT PRIMARY KEY, data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comp_image (
		entity TEXT PRIMARY KEY, url TEXT NOT NULL, mime_type TEXT, width INTEGER, height INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS comp_video (
		entity TEXT PRIMARY KEY, url TEXT NOT NULL, mime_type TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS comp_file (
		entity TEXT PRIMARY KEY, url TEXT NOT NULL, mime_type TEXT, name TEXT, size INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS comp_link (
		entity TEXT PRIMARY KEY, url TEXT NOT NULL, title TEXT, description TEXT, image TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS comp_reaction (
		entity TEXT PRIMARY KEY, target TEXT NOT NULL, emoji TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comp_reaction_target ON comp_reaction(target)`,
	`CREATE TABLE IF NOT EXISTS comp_comment (
		entity TEXT PRIMARY KEY, target TEXT NOT NULL, start INTEGER NOT NULL, end INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comp_user (
		entity TEXT PRIMARY KEY, did TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS comp_last_read (
		entity TEXT PRIMARY KEY, room TEXT NOT NULL, upto TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comp_override_meta (
		entity TEXT PRIMARY KEY, author_name TEXT, author_avatar TEXT, timestamp_ms INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS comp_page_edits (
		entity TEXT PRIMARY KEY, edit_count INTEGER NOT NULL DEFAULT 0, last_patch TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS comp_thread (
		entity TEXT PRIMARY KEY, parent_room TEXT NOT NULL, archived INTEGER NOT NULL DEFAULT 0
	)`,
}

// EnsureSchema creates every table this package needs, idempotently.
func EnsureSchema(ctx context.Context, db *sqlstore.DB) error {
	for _, stmt := range ddl {
		if _, err := db.Execute(ctx, sqlstore.Statement{Query: stmt}); err != nil {
			return err
		}
	}
	return nil
}

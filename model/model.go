// Package model defines the universal materialized node (Entity),
// typed components and labeled edges that make up the relational
// projection of a stream. These are plain Go structs mapped to SQL by
// sqlstore/materializer — no ORM (see DESIGN.md for why).
package model

import "roomy.chat/sid"

// StreamID identifies an opaque per-subject event log (space or
// personal stream). It is a DID string; the cryptographic identity
// system behind it is out of scope here.
type StreamID string

// UserDid identifies the author of an event. Treated as opaque.
type UserDid string

// EdgeLabel is drawn from a closed set; no caller constructs one
// outside the consts below.
type EdgeLabel string

const (
	EdgeMember    EdgeLabel = "member"
	EdgeAuthor    EdgeLabel = "author"
	EdgeReply     EdgeLabel = "reply"
	EdgeEmbed     EdgeLabel = "embed"
	EdgePin       EdgeLabel = "pin"
	EdgeSubscribe EdgeLabel = "subscribe"
	EdgeBan       EdgeLabel = "ban"
	EdgeLink      EdgeLabel = "link"
	EdgeReorder   EdgeLabel = "reorder"
	EdgeSource    EdgeLabel = "source"
	EdgeParent    EdgeLabel = "parent"
	EdgeChild     EdgeLabel = "child"
)

// Entity is the universal materialized node: every room, message,
// reaction, and everything else is one row in this table plus one row
// in a typed comp_* table.
type Entity struct {
	ID        sid.ID
	StreamID  StreamID
	Parent    sid.ID // zero value means no parent
	SortIdx   string // fractional-index string, empty until positioned
	CreatedAt int64  // unix millis
	UpdatedAt int64
}

// Edge is a directed labeled relation between two entities. Payload is
// label-specific JSON (e.g. member.can ∈ {read,post,admin}).
type Edge struct {
	Head    sid.ID
	Tail    sid.ID
	Label   EdgeLabel
	Payload string // raw JSON, empty if the label carries no payload
}

// EventRow mirrors the `events` table: every applied (or stashed)
// event, used for dependency resolution and replay.
type EventRow struct {
	Idx        uint64
	StreamID   StreamID
	User       UserDid
	EntityULID sid.ID
	PayloadJSON string
	Applied    bool
	DependsOn  []sid.ID // nil if the event had no dependencies
}

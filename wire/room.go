package wire

import "roomy.chat/sid"

func init() {
	register("createRoom", func(p []byte) (Event, error) { var e CreateRoom; return decodeInto(p, &e) })
	register("deleteRoom", func(p []byte) (Event, error) { var e DeleteRoom; return decodeInto(p, &e) })
	register("setKind", func(p []byte) (Event, error) { var e SetKind; return decodeInto(p, &e) })
	register("updateParent", func(p []byte) (Event, error) { var e UpdateParent; return decodeInto(p, &e) })
}

// RoomKind enumerates the closed set of room kinds a createRoom event
// may declare. Threads are represented as kind=thread, not a separate
// entity type.
type RoomKind string

const (
	RoomKindChannel  RoomKind = "channel"
	RoomKindThread   RoomKind = "thread"
	RoomKindPage     RoomKind = "page"
	RoomKindCategory RoomKind = "category"
)

// CreateRoom materializes a comp_room row for a new room entity.
type CreateRoom struct {
	Base
	Type_  string   `cbor:"$type"`
	Name   string   `cbor:"name"`
	Kind   RoomKind `cbor:"kind"`
	Parent sid.ID   `cbor:"parent,omitempty"`
}

func (CreateRoom) Type() string { return "createRoom" }

// DeleteRoom soft-deletes a room (sets comp_room.deleted = true).
type DeleteRoom struct {
	Base
	Type_ string `cbor:"$type"`
	Room_ sid.ID `cbor:"room"`
}

func (DeleteRoom) Type() string { return "deleteRoom" }

// SetKind changes a room's kind in place (e.g. channel -> thread).
type SetKind struct {
	Base
	Type_ string   `cbor:"$type"`
	Room_ sid.ID   `cbor:"room"`
	Kind  RoomKind `cbor:"kind"`
}

func (SetKind) Type() string { return "setKind" }

// UpdateParent reparents a room. NewParent must refer to an existing
// entity in the same stream; the materializer stashes the event until
// that holds if it doesn't yet.
type UpdateParent struct {
	Base
	Type_     string `cbor:"$type"`
	Room_     sid.ID `cbor:"room"`
	NewParent sid.ID `cbor:"parent"`
}

func (UpdateParent) Type() string { return "updateParent" }

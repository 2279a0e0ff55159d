package wire

import "roomy.chat/sid"

func init() {
	register("joinSpace", func(p []byte) (Event, error) { var e JoinSpace; return decodeInto(p, &e) })
	register("leaveSpace", func(p []byte) (Event, error) { var e LeaveSpace; return decodeInto(p, &e) })
	register("joinRoom", func(p []byte) (Event, error) { var e JoinRoom; return decodeInto(p, &e) })
	register("leave", func(p []byte) (Event, error) { var e Leave; return decodeInto(p, &e) })
	register("addAdmin", func(p []byte) (Event, error) { var e AddAdmin; return decodeInto(p, &e) })
	register("removeAdmin", func(p []byte) (Event, error) { var e RemoveAdmin; return decodeInto(p, &e) })
}

// Can is the permission level carried by a member edge's payload.
type Can string

const (
	CanRead  Can = "read"
	CanPost  Can = "post"
	CanAdmin Can = "admin"
)

// JoinSpace is recorded on the joining user's personal stream; the
// materializer must be able to resolve the joining user's profile
// before this event can apply cleanly.
type JoinSpace struct {
	Base
	Type_ string `cbor:"$type"`
	Space sid.ID `cbor:"space"`
}

func (JoinSpace) Type() string { return "joinSpace" }

// LeaveSpace removes the member edge for the space.
type LeaveSpace struct {
	Base
	Type_ string `cbor:"$type"`
	Space sid.ID `cbor:"space"`
}

func (LeaveSpace) Type() string { return "leaveSpace" }

// JoinRoom adds a member edge scoped to a single room.
type JoinRoom struct {
	Base
	Type_ string `cbor:"$type"`
	Room_ sid.ID `cbor:"room"`
	Can   Can    `cbor:"can"`
}

func (JoinRoom) Type() string { return "joinRoom" }

// Leave removes a room-scoped member edge.
type Leave struct {
	Base
	Type_ string `cbor:"$type"`
	Room_ sid.ID `cbor:"room"`
}

func (Leave) Type() string { return "leave" }

// AddAdmin promotes a user's member edge to can=admin.
type AddAdmin struct {
	Base
	Type_ string    `cbor:"$type"`
	User  sid.ID    `cbor:"user"`
	Scope sid.ID    `cbor:"scope"` // space or room entity
}

func (AddAdmin) Type() string { return "addAdmin" }

// RemoveAdmin demotes a user's member edge off can=admin.
type RemoveAdmin struct {
	Base
	Type_ string `cbor:"$type"`
	User  sid.ID `cbor:"user"`
	Scope sid.ID `cbor:"scope"`
}

func (RemoveAdmin) Type() string { return "removeAdmin" }

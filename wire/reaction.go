package wire

import "roomy.chat/sid"

func init() {
	register("addReaction", func(p []byte) (Event, error) { var e AddReaction; return decodeInto(p, &e) })
	register("removeReaction", func(p []byte) (Event, error) { var e RemoveReaction; return decodeInto(p, &e) })
	register("addBridgedReaction", func(p []byte) (Event, error) { var e AddBridgedReaction; return decodeInto(p, &e) })
	register("removeBridgedReaction", func(p []byte) (Event, error) { var e RemoveBridgedReaction; return decodeInto(p, &e) })
	register("setLastRead", func(p []byte) (Event, error) { var e SetLastRead; return decodeInto(p, &e) })
}

// AddReaction attaches a comp_reaction row and an author edge to Target.
type AddReaction struct {
	Base
	Type_  string `cbor:"$type"`
	Target sid.ID `cbor:"target"`
	Emoji  string `cbor:"emoji"`
}

func (AddReaction) Type() string { return "addReaction" }

// RemoveReaction removes a previously materialized reaction.
type RemoveReaction struct {
	Base
	Type_  string `cbor:"$type"`
	Target sid.ID `cbor:"target"`
	Emoji  string `cbor:"emoji"`
}

func (RemoveReaction) Type() string { return "removeReaction" }

// AddBridgedReaction / RemoveBridgedReaction are emitted by the bridge
// on behalf of a Discord user who has no stream identity of their own;
// they carry a synthetic display name instead of relying on `user`.
type AddBridgedReaction struct {
	Base
	Type_       string `cbor:"$type"`
	Target      sid.ID `cbor:"target"`
	Emoji       string `cbor:"emoji"`
	DisplayName string `cbor:"displayName"`
}

func (AddBridgedReaction) Type() string { return "addBridgedReaction" }

type RemoveBridgedReaction struct {
	Base
	Type_       string `cbor:"$type"`
	Target      sid.ID `cbor:"target"`
	Emoji       string `cbor:"emoji"`
	DisplayName string `cbor:"displayName"`
}

func (RemoveBridgedReaction) Type() string { return "removeBridgedReaction" }

// SetLastRead records a personal-stream last-read marker for a room.
type SetLastRead struct {
	Base
	Type_ string `cbor:"$type"`
	Room_ sid.ID `cbor:"room"`
	Upto  sid.ID `cbor:"upto"`
}

func (SetLastRead) Type() string { return "setLastRead" }

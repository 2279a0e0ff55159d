package wire

import "roomy.chat/sid"

func init() {
	register("setInfo", func(p []byte) (Event, error) { var e SetInfo; return decodeInto(p, &e) })
	register("updateSidebar", func(p []byte) (Event, error) { var e UpdateSidebar; return decodeInto(p, &e) })
	register("updateProfile", func(p []byte) (Event, error) { var e UpdateProfile; return decodeInto(p, &e) })
	register("createRoomLink", func(p []byte) (Event, error) { var e CreateRoomLink; return decodeInto(p, &e) })
}

// SetInfo updates comp_space/comp_info metadata (name, description, image).
type SetInfo struct {
	Base
	Type_       string `cbor:"$type"`
	Name        string `cbor:"name,omitempty"`
	Description string `cbor:"description,omitempty"`
	Image       string `cbor:"image,omitempty"`
}

func (SetInfo) Type() string { return "setInfo" }

// SidebarCategory is one category's worth of ordered children in a
// sidebar structure.
type SidebarCategory struct {
	Name     string   `cbor:"name"`
	Children []sid.ID `cbor:"children"`
}

// UpdateSidebar carries the full normalized category tree; the bridge
// hashes it to skip no-op structural syncs.
type UpdateSidebar struct {
	Base
	Type_      string            `cbor:"$type"`
	Categories []SidebarCategory `cbor:"categories"`
}

func (UpdateSidebar) Type() string { return "updateSidebar" }

// UpdateProfile changes the sending user's own display profile.
type UpdateProfile struct {
	Base
	Type_  string `cbor:"$type"`
	Name   string `cbor:"name,omitempty"`
	Avatar string `cbor:"avatar,omitempty"`
}

func (UpdateProfile) Type() string { return "updateProfile" }

// CreateRoomLink is how threads are represented: a link edge from a
// parent room to a child room, optionally marked as the link that
// created the child.
type CreateRoomLink struct {
	Base
	Type_          string `cbor:"$type"`
	Room_          sid.ID `cbor:"room"`
	LinkToRoom     sid.ID `cbor:"linkToRoom"`
	IsCreationLink bool   `cbor:"isCreationLink,omitempty"`
}

func (CreateRoomLink) Type() string { return "createRoomLink" }

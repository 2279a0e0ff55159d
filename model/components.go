package model

import "roomy.chat/sid"

// Each Comp* type is one row of its eponymous `comp_*` table, keyed by
// Entity. Field sets follow the wire variants that populate them
// one-to-one so materializer bundles can be built with struct literals
// instead of hand-assembled SQL parameter lists.

type CompRoom struct {
	Entity  sid.ID
	Name    string
	Kind    string // wire.RoomKind
	Deleted bool
}

type CompSpace struct {
	Entity        sid.ID
	BackfilledTo  uint64 // monotone non-decreasing per stream (invariant)
	Hidden        bool   // drives the open-spaces subscription set
}

type CompInfo struct {
	Entity      sid.ID
	Name        string
	Description string
	Image       string
}

type CompContent struct {
	Entity sid.ID
	Data   string
}

type CompImage struct {
	Entity   sid.ID
	URL      string
	MimeType string
	Width    int
	Height   int
}

type CompVideo struct {
	Entity   sid.ID
	URL      string
	MimeType string
}

type CompFile struct {
	Entity   sid.ID
	URL      string
	MimeType string
	Name     string
	Size     int64
}

type CompLink struct {
	Entity      sid.ID
	URL         string
	Title       string // filled in by best-effort OG enrichment
	Description string
	Image       string
}

type CompReaction struct {
	Entity sid.ID
	Target sid.ID
	Emoji  string
}

type CompComment struct {
	Entity sid.ID
	Target sid.ID
	Start  int
	End    int
}

type CompUser struct {
	Entity sid.ID
	Did    UserDid
}

type CompLastRead struct {
	Entity sid.ID
	Room   sid.ID
	Upto   sid.ID
}

// CompOverrideMeta carries authorOverride/timestampOverride data so a
// bridged message can display a different author/time than the
// stream's own `user`/`id` fields without forging them.
type CompOverrideMeta struct {
	Entity        sid.ID
	AuthorName    string
	AuthorAvatar  string
	TimestampMs   int64
}

// CompPageEdits tracks DMP patch application history for a page-kind
// room's content entity, so conflicting concurrent patches can be
// diagnosed after the fact.
type CompPageEdits struct {
	Entity    sid.ID
	EditCount int
	LastPatch string
}

// CompThread is a materialized convenience index, derivable at any
// time from the `edges` table, kept only so bridge hot paths avoid a
// join per webhook dispatch.
type CompThread struct {
	Entity     sid.ID
	ParentRoom sid.ID
	Archived   bool
}

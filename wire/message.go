package wire

import "roomy.chat/sid"

func init() {
	register("createMessage", func(p []byte) (Event, error) { var e CreateMessage; return decodeInto(p, &e) })
}

// Body is the content payload shared by createMessage and editMessage.
// MimeType "text/x-dmp-patch" signals a Diff-Match-Patch delta rather
// than a full replacement.
type Body struct {
	MimeType string `cbor:"mimeType"`
	Data     string `cbor:"data"`
}

// ReplyExtension anchors a message as a reply to another entity.
type ReplyExtension struct {
	Target sid.ID `cbor:"target"`
}

// ImageExtension / VideoExtension / FileExtension attach media by MIME
// classification. The image/video/file bucketing is a bridge-side
// concern; the wire shape itself is platform-agnostic.
type ImageExtension struct {
	URL      string `cbor:"url"`
	MimeType string `cbor:"mimeType"`
	Width    int    `cbor:"width,omitempty"`
	Height   int    `cbor:"height,omitempty"`
}

type VideoExtension struct {
	URL      string `cbor:"url"`
	MimeType string `cbor:"mimeType"`
}

type FileExtension struct {
	URL      string `cbor:"url"`
	MimeType string `cbor:"mimeType"`
	Name     string `cbor:"name"`
	Size     int64  `cbor:"size,omitempty"`
}

// LinkExtension carries a bare URL; comp_link is enriched with OG
// metadata best-effort after materialization.
type LinkExtension struct {
	URL string `cbor:"url"`
}

// CommentExtension marks the message as an inline comment anchored to
// a page entity and offset range.
type CommentExtension struct {
	Target sid.ID `cbor:"target"`
	Start  int    `cbor:"start"`
	End    int    `cbor:"end"`
}

// AuthorOverrideExtension and TimestampOverrideExtension let a bridge
// present a message as authored/sent by someone/something else,
// without forging the stream's own `user` field.
type AuthorOverrideExtension struct {
	Name   string `cbor:"name"`
	Avatar string `cbor:"avatar,omitempty"`
}

type TimestampOverrideExtension struct {
	UnixMilli int64 `cbor:"unixMilli"`
}

// DiscordOriginExtension is the "origin tag" the bridge attaches to
// every event it emits so a later subscription loop can detect and
// suppress its own echo.
//
// Wire key: space.roomy.extension.discordMessageOrigin.v0
type DiscordOriginExtension struct {
	Snowflake   string `cbor:"snowflake"`
	GuildID     string `cbor:"guildId"`
	Fingerprint string `cbor:"fingerprint"`
}

const DiscordOriginKey = "space.roomy.extension.discordMessageOrigin.v0"

// Extension key namespace for the attachment/override kinds a
// createMessage event may carry. Unlisted keys in an Extensions map
// are left alone by the materializer, not rejected.
const (
	ReplyExtensionKey             = "space.roomy.extension.reply.v0"
	ImageExtensionKey             = "space.roomy.extension.image.v0"
	VideoExtensionKey             = "space.roomy.extension.video.v0"
	FileExtensionKey              = "space.roomy.extension.file.v0"
	LinkExtensionKey              = "space.roomy.extension.link.v0"
	CommentExtensionKey          = "space.roomy.extension.comment.v0"
	AuthorOverrideExtensionKey    = "space.roomy.extension.authorOverride.v0"
	TimestampOverrideExtensionKey = "space.roomy.extension.timestampOverride.v0"
)

// CreateMessage is the richest variant: a room-scoped message with an
// optional set of attachment extensions.
type CreateMessage struct {
	Base
	Type_ string `cbor:"$type"`
	Body  Body   `cbor:"body"`
}

func (CreateMessage) Type() string { return "createMessage" }

// Reply decodes the reply extension, if present.
func (m CreateMessage) Reply() (ReplyExtension, bool) {
	var r ReplyExtension
	if err := m.Extensions.Decode(ReplyExtensionKey, &r); err != nil {
		return ReplyExtension{}, false
	}
	return r, true
}

// DiscordOrigin decodes the bridge origin tag, if present. A non-ok
// result means the message originated on the chat side.
func (m CreateMessage) DiscordOrigin() (DiscordOriginExtension, bool) {
	var o DiscordOriginExtension
	if err := m.Extensions.Decode(DiscordOriginKey, &o); err != nil {
		return DiscordOriginExtension{}, false
	}
	return o, true
}

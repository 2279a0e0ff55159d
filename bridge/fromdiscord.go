package bridge

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

// onMessageCreate implements Discord → Stream sync for new messages:
// idempotency is implicit (a MESSAGE_CREATE snowflake is never
// replayed by discordgo itself), resolve the room, sync the author's
// profile, then emit a createMessage carrying the origin tag.
func (b *Bridge) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.WebhookID != "" {
		// Our own bridge webhook (or another bot's) — never re-ingest.
		return
	}
	ctx := context.Background()

	roomEntity, ok := b.store.StreamForDiscord(kindChannel, m.ChannelID)
	if !ok {
		b.log.Warn("message in unmapped channel", "channel", m.ChannelID)
		return
	}

	if err := b.syncProfile(ctx, m.Author, memberOf(m.Member)); err != nil {
		b.log.Error("profile sync failed", "user", m.Author.ID, "error", err)
	}

	roomID, err := sid.Parse(roomEntity)
	if err != nil {
		b.log.Error("mapped room id invalid", "entity", roomEntity, "error", err)
		return
	}

	eventID := sid.New()
	extensions := originExtension(m.ID, b.GuildID, fingerprint(m.Content))

	if target, ok := replyTarget(b, m); ok {
		raw, _ := cborMarshalOrNil(wire.ReplyExtension{Target: target})
		if raw != nil {
			extensions[wire.ReplyExtensionKey] = raw
		}
	} else if m.MessageReference != nil {
		b.log.Warn("reply target missing from id-map, omitting reply extension", "message", m.ID)
	}

	classifyAttachments(m.Attachments, extensions)

	ev := wire.CreateMessage{
		Base: wire.Base{EventID: eventID, Room: roomID, Extensions: extensions},
		Body: wire.Body{MimeType: "text/plain", Data: m.Content},
	}
	if err := b.emit(ctx, ev); err != nil {
		b.log.Error("emit createMessage failed", "error", err)
		return
	}
	if err := b.store.PutDiscordToStream(kindMessage, m.ID, eventID.String()); err != nil {
		b.log.Error("id-map write failed", "message", m.ID, "error", err)
	}
	b.store.SetMessageChannel(m.ID, m.ChannelID)
}

// onMessageUpdate implements the edit side of that sync: a
// timestamp-primary, content-hash-secondary idempotence. Newer
// editedTimestamp always wins; same timestamp + same hash is a
// duplicate; same timestamp + different hash is a conflict resolved in
// Discord's favor.
func (b *Bridge) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.EditedTimestamp == nil {
		return
	}
	ctx := context.Background()

	target, ok := b.store.StreamForDiscord(kindMessage, m.ID)
	if !ok {
		b.log.Warn("edit for unmapped message", "message", m.ID)
		return
	}
	targetID, err := sid.Parse(target)
	if err != nil {
		return
	}

	newTS := m.EditedTimestamp.UnixMilli()
	newHash := fingerprint(m.Content)

	if prev, ok := b.store.EditRecord(m.ID); ok {
		if newTS < prev.EditedTimestamp {
			return
		}
		if newTS == prev.EditedTimestamp && newHash == prev.ContentHash {
			return // exact duplicate
		}
		// newTS == prev.EditedTimestamp && different hash: conflict,
		// Discord's value wins — fall through and emit.
	}

	ev := wire.EditMessage{
		Base:   wire.Base{EventID: sid.New(), Extensions: originExtension(m.ID, b.GuildID, newHash)},
		Target: targetID,
		Body:   wire.Body{MimeType: "text/plain", Data: m.Content},
	}
	if err := b.emit(ctx, ev); err != nil {
		b.log.Error("emit editMessage failed", "error", err)
		return
	}
	b.store.SetEditRecord(m.ID, EditRecord{EditedTimestamp: newTS, ContentHash: newHash})
}

func (b *Bridge) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	// Deletion has no dedicated wire event in this port's scope: the
	// entity stays materialized (soft deletes are a per-kind concern,
	// and messages have none defined) but is unlinked from the id-map
	// so a later re-create of the same snowflake (rare, but Discord
	// allows channel purges to race a bridge restart) doesn't collide.
	b.store.ids.Delete([]byte("d:" + kindMessage + ":" + m.ID))
}

func (b *Bridge) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == s.State.User.ID {
		return
	}
	ctx := context.Background()
	emojiKey := emojiKeyOf(r.Emoji)
	if _, dup := b.store.ReactionEventID(r.MessageID, r.UserID, emojiKey); dup {
		return
	}
	target, ok := b.store.StreamForDiscord(kindMessage, r.MessageID)
	if !ok {
		return
	}
	targetID, err := sid.Parse(target)
	if err != nil {
		return
	}

	user, err := s.User(r.UserID)
	displayName := r.UserID
	if err == nil {
		displayName = user.Username
	}

	eventID := sid.New()
	ev := wire.AddBridgedReaction{
		Base:        wire.Base{EventID: eventID, Extensions: originExtension(r.MessageID, b.GuildID, emojiKey)},
		Target:      targetID,
		Emoji:       emojiKey,
		DisplayName: displayName,
	}
	if err := b.emit(ctx, ev); err != nil {
		b.log.Error("emit addBridgedReaction failed", "error", err)
		return
	}
	b.store.SetReactionEventID(r.MessageID, r.UserID, emojiKey, eventID.String())
}

func (b *Bridge) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if r.UserID == s.State.User.ID {
		return
	}
	ctx := context.Background()
	emojiKey := emojiKeyOf(r.Emoji)
	if _, ok := b.store.ReactionEventID(r.MessageID, r.UserID, emojiKey); !ok {
		return
	}
	target, ok := b.store.StreamForDiscord(kindMessage, r.MessageID)
	if !ok {
		return
	}
	targetID, err := sid.Parse(target)
	if err != nil {
		return
	}

	user, err := s.User(r.UserID)
	displayName := r.UserID
	if err == nil {
		displayName = user.Username
	}

	ev := wire.RemoveBridgedReaction{
		Base:        wire.Base{EventID: sid.New(), Extensions: originExtension(r.MessageID, b.GuildID, emojiKey)},
		Target:      targetID,
		Emoji:       emojiKey,
		DisplayName: displayName,
	}
	if err := b.emit(ctx, ev); err != nil {
		b.log.Error("emit removeBridgedReaction failed", "error", err)
		return
	}
	b.store.ClearReaction(r.MessageID, r.UserID, emojiKey)
}

// onChannelCreate and onThreadCreate implement the Discord-initiated
// half of structural sync: a channel/thread Discord already has
// gets mapped and (for a thread) represented as the two-event
// createRoom+createRoomLink shape, without re-emitting anything if the
// channel recovery scan (see structural.go) already mapped it.
func (b *Bridge) onChannelCreate(s *discordgo.Session, c *discordgo.ChannelCreate) {
	if c.GuildID != b.GuildID {
		return
	}
	if _, already := b.store.StreamForDiscord(kindChannel, c.ID); already {
		return
	}
	ctx := context.Background()
	roomID := sid.New()
	ev := wire.CreateRoom{
		Base: wire.Base{EventID: roomID, Extensions: originExtension(c.ID, b.GuildID, c.Name)},
		Name: c.Name,
		Kind: wire.RoomKindChannel,
	}
	if err := b.emit(ctx, ev); err != nil {
		b.log.Error("emit createRoom failed", "error", err)
		return
	}
	b.store.PutDiscordToStream(kindChannel, c.ID, roomID.String())
}

func (b *Bridge) onThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	if t.GuildID != b.GuildID {
		return
	}
	if _, already := b.store.StreamForDiscord(kindThread, t.ID); already {
		return
	}
	parentEntity, ok := b.store.StreamForDiscord(kindChannel, t.ParentID)
	if !ok {
		b.log.Warn("thread created under unmapped parent channel", "parent", t.ParentID)
		return
	}
	parentID, err := sid.Parse(parentEntity)
	if err != nil {
		return
	}

	ctx := context.Background()
	threadRoomID := sid.New()
	createRoom := wire.CreateRoom{
		Base: wire.Base{EventID: threadRoomID, Extensions: originExtension(t.ID, b.GuildID, t.Name)},
		Name: t.Name,
		Kind: wire.RoomKindThread,
	}
	if err := b.emit(ctx, createRoom); err != nil {
		b.log.Error("emit createRoom(thread) failed", "error", err)
		return
	}
	link := wire.CreateRoomLink{
		Base:           wire.Base{EventID: sid.New()},
		Room_:          parentID,
		LinkToRoom:     threadRoomID,
		IsCreationLink: true,
	}
	if err := b.emit(ctx, link); err != nil {
		b.log.Error("emit createRoomLink failed", "error", err)
		return
	}
	b.store.PutDiscordToStream(kindThread, t.ID, threadRoomID.String())
	b.store.SetThreadParent(t.ID, t.ParentID)
}

// syncProfile emits updateProfile only when the fingerprint of
// {username, globalName, avatar} changed since last sync.
func (b *Bridge) syncProfile(ctx context.Context, u *discordgo.User, nick string) error {
	globalName := u.GlobalName
	if nick != "" {
		globalName = nick
	}
	avatar := u.AvatarURL("")
	hash := profileFingerprint(u.Username, globalName, avatar)

	if prev, ok := b.store.ProfileHash(u.ID); ok && prev == hash {
		return nil
	}
	ev := wire.UpdateProfile{
		Base:   wire.Base{EventID: sid.New(), Extensions: originExtension(u.ID, b.GuildID, hash)},
		Name:   displayNameOr(globalName, u.Username),
		Avatar: avatar,
	}
	if err := b.emit(ctx, ev); err != nil {
		return err
	}
	return b.store.SetProfileHash(u.ID, hash)
}

func displayNameOr(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func memberOf(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	return m.Nick
}

func replyTarget(b *Bridge, m *discordgo.MessageCreate) (sid.ID, bool) {
	if m.MessageReference == nil {
		return sid.Nil, false
	}
	entity, ok := b.store.StreamForDiscord(kindMessage, m.MessageReference.MessageID)
	if !ok {
		return sid.Nil, false
	}
	id, err := sid.Parse(entity)
	if err != nil {
		return sid.Nil, false
	}
	return id, true
}

// classifyAttachments buckets Discord message attachments into
// image/video/file extensions by MIME-prefix. Only
// the first attachment of each kind becomes an extension — additional
// attachments of the same kind are a known scope limit of the
// single-image/video/file extension shape the wire format uses.
func classifyAttachments(attachments []*discordgo.MessageAttachment, ext wire.Extensions) {
	for _, a := range attachments {
		switch {
		case strings.HasPrefix(a.ContentType, "image/"):
			if !ext.Has(wire.ImageExtensionKey) {
				raw, _ := cborMarshalOrNil(wire.ImageExtension{URL: a.URL, MimeType: a.ContentType, Width: a.Width, Height: a.Height})
				if raw != nil {
					ext[wire.ImageExtensionKey] = raw
				}
			}
		case strings.HasPrefix(a.ContentType, "video/"):
			if !ext.Has(wire.VideoExtensionKey) {
				raw, _ := cborMarshalOrNil(wire.VideoExtension{URL: a.URL, MimeType: a.ContentType})
				if raw != nil {
					ext[wire.VideoExtensionKey] = raw
				}
			}
		default:
			if !ext.Has(wire.FileExtensionKey) {
				raw, _ := cborMarshalOrNil(wire.FileExtension{URL: a.URL, MimeType: a.ContentType, Name: a.Filename, Size: int64(a.Size)})
				if raw != nil {
					ext[wire.FileExtensionKey] = raw
				}
			}
		}
	}
}

func emojiKeyOf(e discordgo.Emoji) string {
	if e.ID != "" {
		return e.Name + ":" + e.ID
	}
	return e.Name
}

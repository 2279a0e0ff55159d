package bridge

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

const (
	roleNameMember = "Roomy Member"
	roleNameAdmin  = "Roomy Admin"
)

// handlePermissionStreamEvent is the one-directional Stream → Discord
// side of Membership & Permission Sync: member.can edge changes map to
// lazily created Discord roles and per-channel permission overwrites.
// Discord-side role edits are never synced back.
func (b *Bridge) handlePermissionStreamEvent(ctx context.Context, ev wire.Event) error {
	switch e := ev.(type) {
	case wire.JoinRoom:
		return b.applyRoomPermission(ctx, e.Room_, e.Can)
	case wire.Leave:
		return b.revokeRoomPermission(e.Room_)
	case wire.AddAdmin, wire.RemoveAdmin:
		// Scope/role grants at the space level have no single-channel
		// overwrite to apply; admin promotion only has a visible effect
		// once paired with a room-scoped joinRoom/can=admin, which
		// applyRoomPermission already handles.
		return nil
	}
	return nil
}

// applyRoomPermission ensures the can-level role exists and grants it
// read/post/admin access on the room's mapped channel. Idempotent per
// (room, role): the role id is cached in PairStore, so repeat calls
// for the same can-level only re-issue the permission-overwrite PUT.
func (b *Bridge) applyRoomPermission(ctx context.Context, room sid.ID, can wire.Can) error {
	channelID, ok := b.store.DiscordForStream(kindChannel, room.String())
	if !ok {
		return nil
	}
	roleID, err := b.ensureRole(can)
	if err != nil {
		return err
	}
	allow, deny := overwriteFor(can)
	if err := b.rest.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny); err != nil {
		return fmt.Errorf("bridge: set channel permission: %w", err)
	}
	return nil
}

func (b *Bridge) revokeRoomPermission(room sid.ID) error {
	// Leaving a room has no single well-defined role to strip (the
	// leaving member might have held read, post, or admin); clearing
	// overwrites would affect every other member sharing that role, so
	// this port leaves the channel overwrite untouched and relies on
	// Discord's own per-member role removal happening out of band.
	return nil
}

// ensureRole returns the role id for a can-level, creating and caching
// it on first use.
func (b *Bridge) ensureRole(can wire.Can) (string, error) {
	name := roleNameMember
	if can == wire.CanAdmin {
		name = roleNameAdmin
	}
	if id, ok := b.store.RoleID(name); ok {
		return id, nil
	}
	role, err := b.rest.RoleCreate(b.GuildID, name)
	if err != nil {
		return "", fmt.Errorf("bridge: ensure role %s: %w", name, err)
	}
	if err := b.store.SetRoleID(name, role.ID); err != nil {
		b.log.Warn("role id cache write failed", "role", name, "error", err)
	}
	return role.ID, nil
}

func overwriteFor(can wire.Can) (allow, deny int64) {
	switch can {
	case wire.CanAdmin:
		return discordgo.PermissionAdministrator, 0
	case wire.CanPost:
		return discordgo.PermissionViewChannel | discordgo.PermissionSendMessages, 0
	default: // CanRead
		return discordgo.PermissionViewChannel, discordgo.PermissionSendMessages
	}
}

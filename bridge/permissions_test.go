package bridge

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

func TestApplyRoomPermissionCachesRoleAcrossCalls(t *testing.T) {
	room := sid.New()
	roleCreates := 0
	rest := &fakeRest{}
	b := newTestBridge(t, rest, &fakeSender{})
	b.store.PutDiscordToStream(kindChannel, "chan-1", room.String())

	// fakeRest's RoleCreate isn't overridable per-call, so swap the
	// bridge's own rest field for a countingRest wrapper that counts
	// RoleCreate calls and forwards everything else.
	b.rest = &countingRest{fakeRest: rest, roleCreates: &roleCreates}

	for i := 0; i < 2; i++ {
		ev := wire.JoinRoom{Base: wire.Base{EventID: sid.New()}, Room_: room, Can: wire.CanPost}
		if err := b.HandleStreamEvent(context.Background(), "did:user", ev); err != nil {
			t.Fatalf("HandleStreamEvent: %v", err)
		}
	}
	if roleCreates != 1 {
		t.Fatalf("RoleCreate called %d times, want 1 (role id should be cached)", roleCreates)
	}
}

type countingRest struct {
	*fakeRest
	roleCreates *int
}

func (c *countingRest) RoleCreate(guildID, name string) (*discordgo.Role, error) {
	*c.roleCreates++
	return &discordgo.Role{ID: "role-1", Name: name}, nil
}

func TestLeaveRoomDoesNotErrorForUnmappedRoom(t *testing.T) {
	b := newTestBridge(t, &fakeRest{}, &fakeSender{})
	ev := wire.Leave{Base: wire.Base{EventID: sid.New()}, Room_: sid.New()}
	if err := b.HandleStreamEvent(context.Background(), "did:user", ev); err != nil {
		t.Fatalf("HandleStreamEvent: %v", err)
	}
}

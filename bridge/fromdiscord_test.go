package bridge

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

func TestOnMessageCreateIgnoresOwnWebhookMessages(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)
	room := sid.New()
	b.store.PutDiscordToStream(kindChannel, "chan-1", room.String())

	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "msg-1", ChannelID: "chan-1", WebhookID: "some-webhook", Author: &discordgo.User{ID: "u1"},
	}})

	if len(sender.sent) != 0 {
		t.Fatal("a webhook-authored message should never be re-ingested")
	}
}

func TestOnMessageCreateEmitsForMappedChannel(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)
	room := sid.New()
	b.store.PutDiscordToStream(kindChannel, "chan-1", room.String())

	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "msg-1", ChannelID: "chan-1", Content: "hello", Author: &discordgo.User{ID: "u1", Username: "alice"},
	}})

	// The first sighting of this author also triggers a profile sync,
	// so both an updateProfile and the createMessage get emitted.
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 events (profile sync + message), got %d", len(sender.sent))
	}
	if _, ok := sender.sent[1].(wire.CreateMessage); !ok {
		t.Fatalf("expected the second event to be CreateMessage, got %T", sender.sent[1])
	}
	if _, ok := b.store.StreamForDiscord(kindMessage, "msg-1"); !ok {
		t.Fatal("message id-map was not recorded")
	}
	if _, ok := b.store.MessageChannel("msg-1"); !ok {
		t.Fatal("message channel index was not recorded")
	}
}

func TestOnMessageCreateDropsMessageForUnmappedChannel(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)

	b.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "msg-1", ChannelID: "unmapped-chan", Content: "hello", Author: &discordgo.User{ID: "u1"},
	}})

	if len(sender.sent) != 0 {
		t.Fatal("a message in an unmapped channel should not be relayed")
	}
}

func TestOnMessageDeleteUnlinksIDMap(t *testing.T) {
	b := newTestBridge(t, &fakeRest{}, &fakeSender{})
	b.store.PutDiscordToStream(kindMessage, "msg-1", "entity-1")

	b.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "msg-1"}})

	if _, ok := b.store.StreamForDiscord(kindMessage, "msg-1"); ok {
		t.Fatal("id-map entry survived onMessageDelete")
	}
}

func TestOnChannelCreateMapsOnlyOnce(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)

	ev := &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "chan-1", GuildID: "guild-1", Name: "general"}}
	b.onChannelCreate(nil, ev)
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 createRoom event, got %d", len(sender.sent))
	}

	b.onChannelCreate(nil, ev)
	if len(sender.sent) != 1 {
		t.Fatal("a channel already in the id-map should not emit a second createRoom")
	}
}

func TestOnChannelCreateIgnoresOtherGuilds(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)

	b.onChannelCreate(nil, &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "chan-1", GuildID: "other-guild"}})
	if len(sender.sent) != 0 {
		t.Fatal("a channel from a different guild should be ignored")
	}
}

func TestOnThreadCreateLinksToMappedParent(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)
	parentRoom := sid.New()
	b.store.PutDiscordToStream(kindChannel, "parent-chan", parentRoom.String())

	b.onThreadCreate(nil, &discordgo.ThreadCreate{Channel: &discordgo.Channel{
		ID: "thread-1", GuildID: "guild-1", ParentID: "parent-chan", Name: "discussion",
	}})

	if len(sender.sent) != 2 {
		t.Fatalf("expected createRoom + createRoomLink, got %d events", len(sender.sent))
	}
	if _, ok := sender.sent[0].(wire.CreateRoom); !ok {
		t.Fatalf("first event should be CreateRoom, got %T", sender.sent[0])
	}
	link, ok := sender.sent[1].(wire.CreateRoomLink)
	if !ok {
		t.Fatalf("second event should be CreateRoomLink, got %T", sender.sent[1])
	}
	if link.Room_ != parentRoom {
		t.Fatal("createRoomLink did not point at the mapped parent room")
	}
	if _, ok := b.store.ThreadParent("thread-1"); !ok {
		t.Fatal("thread parent channel was not recorded")
	}
}

func TestOnThreadCreateDropsForUnmappedParent(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)

	b.onThreadCreate(nil, &discordgo.ThreadCreate{Channel: &discordgo.Channel{
		ID: "thread-1", GuildID: "guild-1", ParentID: "unmapped-chan", Name: "discussion",
	}})

	if len(sender.sent) != 0 {
		t.Fatal("a thread under an unmapped parent should not emit anything")
	}
}

func TestSyncProfileSkipsWhenFingerprintUnchanged(t *testing.T) {
	sender := &fakeSender{}
	b := newTestBridge(t, &fakeRest{}, sender)
	user := &discordgo.User{ID: "u1", Username: "alice"}

	if err := b.syncProfile(nil, user, ""); err != nil {
		t.Fatalf("syncProfile: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 updateProfile event, got %d", len(sender.sent))
	}

	if err := b.syncProfile(nil, user, ""); err != nil {
		t.Fatalf("syncProfile: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatal("an unchanged profile should not emit a second updateProfile")
	}
}

func TestClassifyAttachmentsKeepsFirstPerKind(t *testing.T) {
	ext := wire.Extensions{}
	classifyAttachments([]*discordgo.MessageAttachment{
		{URL: "https://example.com/a.png", ContentType: "image/png"},
		{URL: "https://example.com/b.png", ContentType: "image/png"},
		{URL: "https://example.com/c.mp4", ContentType: "video/mp4"},
	}, ext)

	if !ext.Has(wire.ImageExtensionKey) {
		t.Fatal("expected an image extension")
	}
	if !ext.Has(wire.VideoExtensionKey) {
		t.Fatal("expected a video extension")
	}
	var img wire.ImageExtension
	if err := ext.Decode(wire.ImageExtensionKey, &img); err != nil {
		t.Fatalf("decode image extension: %v", err)
	}
	if img.URL != "https://example.com/a.png" {
		t.Fatalf("image extension kept %q, want the first attachment's URL", img.URL)
	}
}

func TestEmojiKeyOfDistinguishesCustomFromUnicode(t *testing.T) {
	unicode := emojiKeyOf(discordgo.Emoji{Name: "👍"})
	custom := emojiKeyOf(discordgo.Emoji{Name: "partyblob", ID: "123"})

	if unicode == custom {
		t.Fatal("a unicode emoji and a same-named custom emoji must not collide")
	}
	if custom != "partyblob:123" {
		t.Fatalf("emojiKeyOf(custom) = %q", custom)
	}
}

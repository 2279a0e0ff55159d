package bridge

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/fxamacker/cbor/v2"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

type fakeGateway struct{}

func (fakeGateway) AddHandler(handler any) func() { return func() {} }
func (fakeGateway) Open() error                   { return nil }
func (fakeGateway) Close() error                  { return nil }

// fakeRest implements DiscordREST with every call succeeding with a
// fixed stub result (nil, or a canned channel/webhook/message/role)
// unless a test overrides the corresponding field.
type fakeRest struct {
	channelWebhooks func(channelID string) ([]*discordgo.Webhook, error)
	webhookCreate   func(channelID, name, avatar string) (*discordgo.Webhook, error)
	webhookDelete   func(webhookID string) error
	webhookExecute  func(webhookID, token string, wait bool, data *discordgo.WebhookParams) (*discordgo.Message, error)
	guildChannels   func(guildID string) ([]*discordgo.Channel, error)
	channelCreate   func(guildID, name, parentID, topic string) (*discordgo.Channel, error)
}

func (f *fakeRest) ChannelCreate(guildID, name, parentID, topic string) (*discordgo.Channel, error) {
	if f.channelCreate != nil {
		return f.channelCreate(guildID, name, parentID, topic)
	}
	return &discordgo.Channel{ID: "new-channel"}, nil
}
func (f *fakeRest) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	if f.guildChannels != nil {
		return f.guildChannels(guildID)
	}
	return nil, nil
}
func (f *fakeRest) ThreadStartWithMessage(channelID, messageID, name string) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "thread"}, nil
}
func (f *fakeRest) ChannelWebhooks(channelID string) ([]*discordgo.Webhook, error) {
	if f.channelWebhooks != nil {
		return f.channelWebhooks(channelID)
	}
	return nil, nil
}
func (f *fakeRest) WebhookCreate(channelID, name, avatar string) (*discordgo.Webhook, error) {
	if f.webhookCreate != nil {
		return f.webhookCreate(channelID, name, avatar)
	}
	return &discordgo.Webhook{ID: "hook", Token: "tok"}, nil
}
func (f *fakeRest) WebhookDelete(webhookID string) error {
	if f.webhookDelete != nil {
		return f.webhookDelete(webhookID)
	}
	return nil
}
func (f *fakeRest) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams) (*discordgo.Message, error) {
	if f.webhookExecute != nil {
		return f.webhookExecute(webhookID, token, wait, data)
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: "chan-1"}, nil
}
func (f *fakeRest) ChannelMessageEdit(channelID, messageID, content string) error   { return nil }
func (f *fakeRest) ChannelMessageDelete(channelID, messageID string) error         { return nil }
func (f *fakeRest) MessageReactionAdd(channelID, messageID, emoji string) error    { return nil }
func (f *fakeRest) MessageReactionRemove(channelID, messageID, emoji, userID string) error {
	return nil
}
func (f *fakeRest) MessageReactions(channelID, messageID, emoji string) ([]*discordgo.User, error) {
	return nil, nil
}
func (f *fakeRest) RoleCreate(guildID, name string) (*discordgo.Role, error) {
	return &discordgo.Role{ID: "role-1", Name: name}, nil
}
func (f *fakeRest) RoleDelete(guildID, roleID string) error { return nil }
func (f *fakeRest) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	return nil
}

type fakeSender struct {
	sent []wire.Event
}

func (f *fakeSender) SendEvent(ctx context.Context, stream model.StreamID, payload []byte) error {
	ev, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, ev)
	return nil
}

type fakeProfiles struct{}

func (fakeProfiles) GetProfile(ctx context.Context, did model.UserDid) (string, string, error) {
	return string(did), "", nil
}

func newTestBridge(t *testing.T, rest *fakeRest, sender *fakeSender) *Bridge {
	t.Helper()
	return New("guild-1", model.StreamID("space-1"), fakeGateway{}, rest, sender, fakeProfiles{}, newTestKV(t), nil)
}

func TestHandleStreamEventDropsDiscordOriginatedEcho(t *testing.T) {
	sender := &fakeSender{}
	webhookCalls := 0
	rest := &fakeRest{
		webhookExecute: func(webhookID, token string, wait bool, data *discordgo.WebhookParams) (*discordgo.Message, error) {
			webhookCalls++
			return &discordgo.Message{ID: "msg-1", ChannelID: "chan-1"}, nil
		},
	}
	b := newTestBridge(t, rest, sender)
	room := sid.New()
	b.store.PutDiscordToStream(kindChannel, "discord-chan-1", room.String())

	raw, _ := cbor.Marshal(wire.DiscordOriginExtension{Snowflake: "123", GuildID: "guild-1"})
	msg := wire.CreateMessage{
		Base: wire.Base{EventID: sid.New(), Room: room, Extensions: wire.Extensions{wire.DiscordOriginKey: raw}},
		Body: wire.Body{MimeType: "text/plain", Data: "hi"},
	}

	if err := b.HandleStreamEvent(context.Background(), model.UserDid("did:user"), msg); err != nil {
		t.Fatalf("HandleStreamEvent: %v", err)
	}
	if webhookCalls != 0 {
		t.Fatalf("expected no relay, got %d webhook executions on the Discord path", webhookCalls)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing emitted to the stream, got %d events", len(sender.sent))
	}
}

func TestHandleStreamEventRelaysChatNativeMessage(t *testing.T) {
	room := sid.New()
	b := newTestBridge(t, &fakeRest{}, &fakeSender{})
	b.store.PutDiscordToStream(kindChannel, "discord-chan-1", room.String())

	msg := wire.CreateMessage{
		Base: wire.Base{EventID: sid.New(), Room: room},
		Body: wire.Body{MimeType: "text/plain", Data: "hello"},
	}

	if err := b.HandleStreamEvent(context.Background(), model.UserDid("did:user"), msg); err != nil {
		t.Fatalf("HandleStreamEvent: %v", err)
	}
	if _, ok := b.store.DiscordForStream(kindMessage, msg.EventID.String()); !ok {
		t.Fatal("relayed message was never recorded in the id-map")
	}
}

func TestHandleStreamEventDropsMessageForUnmappedRoom(t *testing.T) {
	b := newTestBridge(t, &fakeRest{}, &fakeSender{})
	msg := wire.CreateMessage{
		Base: wire.Base{EventID: sid.New(), Room: sid.New()},
		Body: wire.Body{MimeType: "text/plain", Data: "hello"},
	}
	if err := b.HandleStreamEvent(context.Background(), model.UserDid("did:user"), msg); err != nil {
		t.Fatalf("HandleStreamEvent: %v", err)
	}
}

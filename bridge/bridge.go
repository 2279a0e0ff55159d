// Package bridge synchronizes one Discord guild with one chat space
// bidirectionally: Discord messages/reactions/channels become stream
// events carrying an origin tag, and stream events without that tag
// get relayed back out to Discord via a per-channel webhook.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"roomy.chat/kvstore"
	"roomy.chat/model"
	"roomy.chat/wire"
)

// StreamSender is the subset of transport.StreamClient the bridge
// needs to emit events; kept minimal so bridge doesn't import
// transport (transport already imports materializer, and the bridge
// and transport packages are siblings, not a chain).
type StreamSender interface {
	SendEvent(ctx context.Context, stream model.StreamID, payload []byte) error
}

// ProfileLookup resolves a chat-native author to the display identity
// a relayed webhook message should carry. Shaped like
// materializer.Backend deliberately — both sit in front of the same
// identity system — but kept as its own interface so bridge never
// needs to import materializer.
type ProfileLookup interface {
	GetProfile(ctx context.Context, did model.UserDid) (name, avatar string, err error)
}

// Bridge owns one (guildId, spaceId) pairing's worth of sync state and
// logic.
type Bridge struct {
	GuildID string
	SpaceID model.StreamID

	gateway  DiscordGateway
	rest     DiscordREST
	sender   StreamSender
	profiles ProfileLookup
	store    *PairStore
	log      *slog.Logger

	unregisterHandlers []func()
}

// New builds a Bridge for one registered pairing. Call Start to attach
// Discord gateway handlers; call Close to detach them.
func New(guildID string, spaceID model.StreamID, gateway DiscordGateway, rest DiscordREST, sender StreamSender, profiles ProfileLookup, kv *kvstore.Store, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		GuildID:  guildID,
		SpaceID:  spaceID,
		gateway:  gateway,
		rest:     rest,
		sender:   sender,
		profiles: profiles,
		store:    NewPairStore(kv, guildID, string(spaceID)),
		log:      log,
	}
}

// Start recovers channel mappings from a prior instance's topic
// markers, then registers this pairing's Discord→Stream gateway
// handlers.
func (b *Bridge) Start() {
	if err := b.RecoverChannelMappings(context.Background()); err != nil {
		b.log.Warn("channel mapping recovery failed", "error", err)
	}
	b.unregisterHandlers = append(b.unregisterHandlers,
		b.gateway.AddHandler(b.onMessageCreate),
		b.gateway.AddHandler(b.onMessageUpdate),
		b.gateway.AddHandler(b.onMessageDelete),
		b.gateway.AddHandler(b.onReactionAdd),
		b.gateway.AddHandler(b.onReactionRemove),
		b.gateway.AddHandler(b.onChannelCreate),
		b.gateway.AddHandler(b.onThreadCreate),
	)
}

// Close detaches every handler this Bridge registered.
func (b *Bridge) Close() {
	for _, unreg := range b.unregisterHandlers {
		unreg()
	}
	b.unregisterHandlers = nil
}

// emit CBOR-encodes ev and sends it on the bridge's space stream.
func (b *Bridge) emit(ctx context.Context, ev any) error {
	payload, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: encode event: %w", err)
	}
	return b.sender.SendEvent(ctx, b.SpaceID, payload)
}

// originExtension builds the echo-break tag every Discord-originated
// event carries.
func originExtension(snowflake, guildID, fingerprintVal string) wire.Extensions {
	raw, _ := cbor.Marshal(wire.DiscordOriginExtension{
		Snowflake: snowflake, GuildID: guildID, Fingerprint: fingerprintVal,
	})
	return wire.Extensions{wire.DiscordOriginKey: raw}
}

// HandleStreamEvent is the Stream→Discord entry point: the caller
// (transport's push loop, or a materializer hook) decodes the raw
// event and hands it here. Events carrying this bridge's own origin
// tag are the echo-loop break and are silently dropped before the
// type switch ever runs.
func (b *Bridge) HandleStreamEvent(ctx context.Context, author model.UserDid, ev wire.Event) error {
	if isDiscordOrigin(ev) {
		return nil
	}
	switch e := ev.(type) {
	case wire.CreateMessage:
		return b.relayMessageToDiscord(ctx, author, e)
	case wire.EditMessage:
		return b.relayEditToDiscord(ctx, e)
	case wire.AddReaction:
		return b.relayReactionToDiscord(ctx, e, true)
	case wire.RemoveReaction:
		return b.relayReactionToDiscord(ctx, e, false)
	case wire.CreateRoom, wire.CreateRoomLink, wire.UpdateSidebar, wire.SetInfo:
		return b.handleStructuralStreamEvent(ctx, ev)
	case wire.JoinRoom, wire.Leave, wire.AddAdmin, wire.RemoveAdmin:
		return b.handlePermissionStreamEvent(ctx, ev)
	default:
		return nil
	}
}

// extensionsOf returns the Base.Extensions of any event kind the
// bridge inspects for an origin tag; event kinds it never relays
// return nil.
func extensionsOf(ev wire.Event) wire.Extensions {
	switch e := ev.(type) {
	case wire.CreateMessage:
		return e.Extensions
	case wire.EditMessage:
		return e.Extensions
	case wire.AddReaction:
		return e.Extensions
	case wire.RemoveReaction:
		return e.Extensions
	case wire.CreateRoom:
		return e.Extensions
	case wire.CreateRoomLink:
		return e.Extensions
	case wire.UpdateSidebar:
		return e.Extensions
	case wire.SetInfo:
		return e.Extensions
	case wire.JoinRoom:
		return e.Extensions
	case wire.Leave:
		return e.Extensions
	case wire.AddAdmin:
		return e.Extensions
	case wire.RemoveAdmin:
		return e.Extensions
	default:
		return nil
	}
}

func isDiscordOrigin(ev wire.Event) bool {
	return extensionsOf(ev).Has(wire.DiscordOriginKey)
}

// cborMarshalOrNil returns a nil RawMessage alongside the error for
// extension values that fail to encode; callers check for nil and skip
// that extension, so a bad attachment never blocks the rest of a
// createMessage's extensions from being attached.
func cborMarshalOrNil(v any) (cbor.RawMessage, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(b), nil
}

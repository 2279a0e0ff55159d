package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

// discordChannelForRoom resolves a room entity to the Discord channel
// a webhook must execute against and, if the room is a thread, the
// thread_id to post into within that channel's webhook.
func (b *Bridge) discordChannelForRoom(room sid.ID) (channelID, threadID string, ok bool) {
	roomStr := room.String()
	if id, ok := b.store.DiscordForStream(kindChannel, roomStr); ok {
		return id, "", true
	}
	if id, ok := b.store.DiscordForStream(kindThread, roomStr); ok {
		if parent, ok := b.store.ThreadParent(id); ok {
			return parent, id, true
		}
		return id, id, true
	}
	return "", "", false
}

// relayMessageToDiscord is the Stream → Discord side of message sync: resolve
// the target channel, ensure a webhook, and execute it under the
// author's display identity.
func (b *Bridge) relayMessageToDiscord(ctx context.Context, author model.UserDid, msg wire.CreateMessage) error {
	channelID, threadID, ok := b.discordChannelForRoom(msg.Room)
	if !ok {
		b.log.Warn("message for unmapped room, dropping relay", "room", msg.Room)
		return nil
	}

	webhookID, token, err := b.ensureWebhook(ctx, channelID)
	if err != nil {
		return err
	}

	username, avatar := b.displayIdentity(ctx, author, msg.Extensions)
	content := b.renderContent(msg.Body, msg.Extensions)

	params := &discordgo.WebhookParams{
		Content:   content,
		Username:  username,
		AvatarURL: avatar,
		ThreadID:  threadID,
	}
	result, err := b.executeWebhookWithRetry(ctx, channelID, webhookID, token, params)
	if err != nil {
		return fmt.Errorf("bridge: relay message: %w", err)
	}

	b.store.PutDiscordToStream(kindMessage, result.ID, msg.EventID.String())
	b.store.SetMessageChannel(result.ID, result.ChannelID)
	return nil
}

// relayEditToDiscord relays a chat-native edit as a webhook message
// edit. Webhooks can only edit messages they themselves posted, which
// every relayed message satisfies by construction.
func (b *Bridge) relayEditToDiscord(ctx context.Context, ev wire.EditMessage) error {
	discordID, ok := b.store.DiscordForStream(kindMessage, ev.Target.String())
	if !ok {
		b.log.Warn("edit for unmapped message, dropping relay", "target", ev.Target)
		return nil
	}
	channelID, ok := b.store.MessageChannel(discordID)
	if !ok {
		b.log.Warn("edit for message with no known channel, dropping relay", "message", discordID)
		return nil
	}
	if ev.IsPatch() {
		// Diff-Match-Patch deltas are resolved against materialized
		// content on the chat side; the bridge only ever sees full
		// content once it's applied, so patches can't be relayed here.
		return nil
	}
	if err := b.rest.ChannelMessageEdit(channelID, discordID, ev.Body.Data); err != nil {
		return fmt.Errorf("bridge: relay edit: %w", err)
	}
	return nil
}

// relayReactionToDiscord mirrors a chat-native reaction as the
// bridge's own Discord reaction, collapsing any number of chat-side
// reactors of the same emoji into a single bot-held reaction — Discord
// has no way to react to a message as someone else.
func (b *Bridge) relayReactionToDiscord(ctx context.Context, ev wire.Event, add bool) error {
	var target sid.ID
	var emoji string
	switch e := ev.(type) {
	case wire.AddReaction:
		target, emoji = e.Target, e.Emoji
	case wire.RemoveReaction:
		target, emoji = e.Target, e.Emoji
	}

	discordID, ok := b.store.DiscordForStream(kindMessage, target.String())
	if !ok {
		return nil
	}
	channelID, ok := b.store.MessageChannel(discordID)
	if !ok {
		return nil
	}

	if add {
		if b.store.HasBotReaction(discordID, emoji) {
			return nil
		}
		if err := b.rest.MessageReactionAdd(channelID, discordID, emoji); err != nil {
			return fmt.Errorf("bridge: relay reaction add: %w", err)
		}
		return b.store.SetBotReaction(discordID, emoji)
	}

	if !b.store.HasBotReaction(discordID, emoji) {
		return nil
	}
	if err := b.rest.MessageReactionRemove(channelID, discordID, emoji, "@me"); err != nil {
		return fmt.Errorf("bridge: relay reaction remove: %w", err)
	}
	return b.store.ClearBotReaction(discordID, emoji)
}

// displayIdentity resolves the username/avatar a relayed webhook
// message should present: an explicit author-override extension wins,
// otherwise the author's profile is looked up through ProfileLookup.
func (b *Bridge) displayIdentity(ctx context.Context, author model.UserDid, ext wire.Extensions) (name, avatar string) {
	var override wire.AuthorOverrideExtension
	if err := ext.Decode(wire.AuthorOverrideExtensionKey, &override); err == nil {
		return override.Name, override.Avatar
	}
	if b.profiles == nil {
		return string(author), ""
	}
	name, avatar, err := b.profiles.GetProfile(ctx, author)
	if err != nil {
		b.log.Warn("profile lookup failed for relay", "user", author, "error", err)
		return string(author), ""
	}
	return name, avatar
}

// renderContent appends attachment/reply extensions to the message
// body as plain text, since a webhook-executed message has no access
// to the chat client's rich rendering.
func (b *Bridge) renderContent(body wire.Body, ext wire.Extensions) string {
	var lines []string
	if body.Data != "" {
		lines = append(lines, body.Data)
	}

	var r wire.ReplyExtension
	if err := ext.Decode(wire.ReplyExtensionKey, &r); err == nil {
		if discordID, ok := b.store.DiscordForStream(kindMessage, r.Target.String()); ok {
			if channelID, ok := b.store.MessageChannel(discordID); ok {
				lines = append([]string{fmt.Sprintf("> https://discord.com/channels/%s/%s/%s", b.GuildID, channelID, discordID)}, lines...)
			}
		}
	}

	var img wire.ImageExtension
	if err := ext.Decode(wire.ImageExtensionKey, &img); err == nil {
		lines = append(lines, img.URL)
	}
	var vid wire.VideoExtension
	if err := ext.Decode(wire.VideoExtensionKey, &vid); err == nil {
		lines = append(lines, vid.URL)
	}
	var file wire.FileExtension
	if err := ext.Decode(wire.FileExtensionKey, &file); err == nil {
		lines = append(lines, file.URL)
	}

	return strings.Join(lines, "\n")
}

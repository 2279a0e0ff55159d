package bridge

import "github.com/bwmarrin/discordgo"

// DiscordGateway is the subset of a live gateway connection the bridge
// needs: register event handlers and manage the connection lifecycle.
// discordgo.Session satisfies this directly.
type DiscordGateway interface {
	AddHandler(handler any) func()
	Open() error
	Close() error
}

// DiscordREST is every Discord REST call the bridge issues, named
// after the REST calls the bridge actually issues. A *discordgo.Session
// is used through DiscordSession below, which adds thin adapter
// methods only where the real method name or signature differs.
type DiscordREST interface {
	ChannelCreate(guildID, name, parentID, topic string) (*discordgo.Channel, error)
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	ThreadStartWithMessage(channelID, messageID, name string) (*discordgo.Channel, error)
	ChannelWebhooks(channelID string) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string) (*discordgo.Webhook, error)
	WebhookDelete(webhookID string) error
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string) error
	ChannelMessageDelete(channelID, messageID string) error
	MessageReactionAdd(channelID, messageID, emoji string) error
	MessageReactionRemove(channelID, messageID, emoji, userID string) error
	MessageReactions(channelID, messageID, emoji string) ([]*discordgo.User, error)
	RoleCreate(guildID, name string) (*discordgo.Role, error)
	RoleDelete(guildID, roleID string) error
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error
}

// DiscordSession adapts a real *discordgo.Session to DiscordREST where
// the method name or argument shape doesn't already match (everything
// else — ChannelWebhooks, WebhookCreate, WebhookDelete,
// MessageReactionAdd/Remove/MessageReactions — is forwarded directly
// because discordgo's own signature already fits).
type DiscordSession struct {
	*discordgo.Session
}

// ChannelCreate creates a text channel carrying a bot-written topic
// marker ("roomy:<room entity id>") so a restarted bridge can recover
// the id-map by scanning channels instead of replaying every
// createRoom event.
func (s DiscordSession) ChannelCreate(guildID, name, parentID, topic string) (*discordgo.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: parentID,
		Topic:    topic,
	}
	return s.Session.GuildChannelCreateComplex(guildID, data)
}

func (s DiscordSession) ThreadStartWithMessage(channelID, messageID, name string) (*discordgo.Channel, error) {
	return s.Session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 1440,
	})
}

func (s DiscordSession) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams) (*discordgo.Message, error) {
	return s.Session.WebhookExecute(webhookID, token, wait, data)
}

func (s DiscordSession) RoleCreate(guildID, name string) (*discordgo.Role, error) {
	return s.Session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: name})
}

func (s DiscordSession) RoleDelete(guildID, roleID string) error {
	return s.Session.GuildRoleDelete(guildID, roleID)
}

func (s DiscordSession) ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64) error {
	return s.Session.ChannelPermissionSet(channelID, targetID, targetType, allow, deny)
}

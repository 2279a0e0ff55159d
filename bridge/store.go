package bridge

import (
	"encoding/json"
	"fmt"

	"roomy.chat/kvstore"
)

// RegistrationStore tracks which guild is bridged to which space,
// bidirectionally.
type RegistrationStore struct {
	sl kvstore.Sublevel
}

func NewRegistrationStore(kv *kvstore.Store) *RegistrationStore {
	return &RegistrationStore{sl: kv.Open("registeredBridges")}
}

func (r *RegistrationStore) Register(guildID, spaceID string) error {
	return r.sl.Batch(map[string][]byte{
		"guildId_" + guildID: []byte(spaceID),
		"spaceId_" + spaceID: []byte(guildID),
	})
}

func (r *RegistrationStore) SpaceForGuild(guildID string) (string, bool) {
	v, err := r.sl.Get([]byte("guildId_" + guildID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (r *RegistrationStore) GuildForSpace(spaceID string) (string, bool) {
	v, err := r.sl.Get([]byte("spaceId_" + spaceID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

// Pair is one registered (guild, space) bridge pairing.
type Pair struct {
	GuildID string
	SpaceID string
}

// All enumerates every registered pairing via the guildId_-keyed half
// of the bidirectional index.
func (r *RegistrationStore) All() ([]Pair, error) {
	var pairs []Pair
	err := r.sl.PrefixIterate([]byte("guildId_"), func(key, value []byte) error {
		pairs = append(pairs, Pair{GuildID: string(key[len("guildId_"):]), SpaceID: string(value)})
		return nil
	})
	return pairs, err
}

// Deregister removes both halves of a (guild, space) pairing's index
// entries. Callers should also call the corresponding PairStore's
// DeregisterAll to clear per-pairing relay state.
func (r *RegistrationStore) Deregister(guildID, spaceID string) error {
	if err := r.sl.Delete([]byte("guildId_" + guildID)); err != nil {
		return err
	}
	return r.sl.Delete([]byte("spaceId_" + spaceID))
}

// PairStore is everything scoped to one (guildId, spaceId) bridge
// registration: the ID-map, profile-hash, sidebar-hash, reaction-key,
// edit-tracking and webhook-token-cache sublevels plus the per-stream
// cursor.
type PairStore struct {
	guildID string
	spaceID string
	kv      *kvstore.Store

	ids       kvstore.Sublevel
	profiles  kvstore.Sublevel
	reactions kvstore.Sublevel
	edits     kvstore.Sublevel
	sidebar   kvstore.Sublevel
	webhooks  kvstore.Sublevel
	cursors   kvstore.Sublevel
	msgChan   kvstore.Sublevel
	threadOf  kvstore.Sublevel
	botRxns   kvstore.Sublevel
	roles     kvstore.Sublevel
}

func NewPairStore(kv *kvstore.Store, guildID, spaceID string) *PairStore {
	ns := func(prefix string) kvstore.Sublevel {
		return kv.Open(prefix + ":" + guildID + ":" + spaceID)
	}
	return &PairStore{
		guildID:   guildID,
		spaceID:   spaceID,
		kv:        kv,
		ids:       ns("syncedIds"),
		profiles:  ns("syncedProfiles"),
		reactions: ns("syncedReactions"),
		edits:     ns("syncedEdits"),
		sidebar:   ns("syncedSidebarHash"),
		webhooks:  ns("discordWebhookTokens"),
		cursors:   kv.Open("leafCursors"),
		msgChan:   ns("messageChannelIndex"),
		threadOf:  ns("threadParentChannel"),
		botRxns:   ns("bridgeOwnReactions"),
		roles:     ns("discordRoleIds"),
	}
}

// RoleID / SetRoleID cache the Discord role id minted for a can-level
// role name, so repeated joinRoom events for the same can-level don't
// mint duplicate Discord roles.
func (p *PairStore) RoleID(name string) (string, bool) {
	v, err := p.roles.Get([]byte(name))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (p *PairStore) SetRoleID(name, roleID string) error {
	return p.roles.Put([]byte(name), []byte(roleID))
}

// ID-map. Keys carry a direction prefix ("d:" for Discord→entity, "r:"
// for entity→Discord) plus a kind prefix to disambiguate the four
// kinds of thing a Discord-side id might refer to without a separate
// sublevel per kind.
const (
	kindChannel = "channel"
	kindThread  = "thread"
	kindMessage = "message"
	kindUser    = "user"
)

func (p *PairStore) PutDiscordToStream(kind, discordID string, entity string) error {
	return p.ids.Batch(map[string][]byte{
		"d:" + kind + ":" + discordID: []byte(entity),
		"r:" + kind + ":" + entity:    []byte(discordID),
	})
}

func (p *PairStore) StreamForDiscord(kind, discordID string) (string, bool) {
	v, err := p.ids.Get([]byte("d:" + kind + ":" + discordID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (p *PairStore) DiscordForStream(kind, entity string) (string, bool) {
	v, err := p.ids.Get([]byte("r:" + kind + ":" + entity))
	if err != nil {
		return "", false
	}
	return string(v), true
}

// Profile-hash store: userId -> fingerprint of {username, globalName,
// avatar}, so an unchanged profile never re-emits updateProfile.
func (p *PairStore) ProfileHash(userID string) (string, bool) {
	v, err := p.profiles.Get([]byte(userID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (p *PairStore) SetProfileHash(userID, hash string) error {
	return p.profiles.Put([]byte(userID), []byte(hash))
}

// Reaction-key store: message:user:emoji -> the reaction event id that
// materialized it, so a duplicate ADD/REMOVE from Discord is a no-op.
func reactionKey(messageID, userID, emoji string) []byte {
	return []byte(messageID + ":" + userID + ":" + emoji)
}

func (p *PairStore) ReactionEventID(messageID, userID, emoji string) (string, bool) {
	v, err := p.reactions.Get(reactionKey(messageID, userID, emoji))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (p *PairStore) SetReactionEventID(messageID, userID, emoji, eventID string) error {
	return p.reactions.Put(reactionKey(messageID, userID, emoji), []byte(eventID))
}

func (p *PairStore) ClearReaction(messageID, userID, emoji string) error {
	return p.reactions.Delete(reactionKey(messageID, userID, emoji))
}

// Edit-tracking store: messageId -> {editedTimestamp, contentHash},
// backing the timestamp-primary/content-hash-secondary idempotence
// onMessageUpdate describes.
type EditRecord struct {
	EditedTimestamp int64  `json:"editedTimestamp"`
	ContentHash     string `json:"contentHash"`
}

func (p *PairStore) EditRecord(messageID string) (EditRecord, bool) {
	v, err := p.edits.Get([]byte(messageID))
	if err != nil {
		return EditRecord{}, false
	}
	var rec EditRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return EditRecord{}, false
	}
	return rec, true
}

func (p *PairStore) SetEditRecord(messageID string, rec EditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.edits.Put([]byte(messageID), b)
}

// Sidebar-hash store: a single "sidebar" key holding the last synced
// structural hash, skipping no-op writes.
func (p *PairStore) SidebarHash() (string, bool) {
	v, err := p.sidebar.Get([]byte("sidebar"))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (p *PairStore) SetSidebarHash(hash string) error {
	return p.sidebar.Put([]byte("sidebar"), []byte(hash))
}

// Webhook-token cache: channelId -> "webhookId:token".
func (p *PairStore) WebhookToken(channelID string) (id, token string, ok bool) {
	v, err := p.webhooks.Get([]byte(channelID))
	if err != nil {
		return "", "", false
	}
	id, token, ok = splitWebhookToken(string(v))
	return
}

func (p *PairStore) SetWebhookToken(channelID, webhookID, token string) error {
	return p.webhooks.Put([]byte(channelID), []byte(webhookID+":"+token))
}

func (p *PairStore) ClearWebhookToken(channelID string) error {
	return p.webhooks.Delete([]byte(channelID))
}

func splitWebhookToken(v string) (id, token string, ok bool) {
	for i := 0; i < len(v); i++ {
		if v[i] == ':' {
			return v[:i], v[i+1:], true
		}
	}
	return "", "", false
}

// MessageChannel records which Discord channel (or thread) a bridged
// message lives in, since Discord's own REST calls (edit, delete,
// react) are channel-scoped and the id-map alone doesn't carry it.
func (p *PairStore) SetMessageChannel(messageID, channelID string) error {
	return p.msgChan.Put([]byte(messageID), []byte(channelID))
}

func (p *PairStore) MessageChannel(messageID string) (string, bool) {
	v, err := p.msgChan.Get([]byte(messageID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

// ThreadParent records the parent channel a thread was created under,
// needed because a webhook token belongs to the parent channel even
// when posting into the thread via thread_id.
func (p *PairStore) SetThreadParent(threadID, parentChannelID string) error {
	return p.threadOf.Put([]byte(threadID), []byte(parentChannelID))
}

func (p *PairStore) ThreadParent(threadID string) (string, bool) {
	v, err := p.threadOf.Get([]byte(threadID))
	if err != nil {
		return "", false
	}
	return string(v), true
}

// Bot-own-reaction tracking: the bridge reacts to a message as itself
// on behalf of however many stream-native users added the same emoji,
// without modeling per-user dedup on the Discord side (Discord has no
// concept of "react as someone else" without their own bot identity).
// A message:emoji key present means the bridge currently holds that
// reaction; it's cleared on the first chat-side removal of that emoji.
// How many chat-side reactors still hold the emoji is not tracked.
func (p *PairStore) HasBotReaction(messageID, emoji string) bool {
	_, err := p.botRxns.Get([]byte(messageID + ":" + emoji))
	return err == nil
}

func (p *PairStore) SetBotReaction(messageID, emoji string) error {
	return p.botRxns.Put([]byte(messageID+":"+emoji), []byte{1})
}

func (p *PairStore) ClearBotReaction(messageID, emoji string) error {
	return p.botRxns.Delete([]byte(messageID + ":" + emoji))
}

// Cursor: stream_id -> last_applied_idx, the bridge's own durable
// replay position independent of the materializer's backfilled_to.
func (p *PairStore) Cursor() uint64 {
	v, err := p.cursors.Get([]byte(p.spaceID))
	if err != nil || len(v) != 8 {
		return 0
	}
	return beUint64(v)
}

func (p *PairStore) SetCursor(idx uint64) error {
	return p.cursors.Put([]byte(p.spaceID), beBytes(idx))
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// DeregisterAll tears down every sublevel for a (guildId, spaceId)
// bridge registration in one shot.
func (p *PairStore) DeregisterAll() error {
	prefixes := []kvstore.Sublevel{p.ids, p.profiles, p.reactions, p.edits, p.sidebar, p.webhooks, p.msgChan, p.threadOf, p.botRxns, p.roles}
	for _, sl := range prefixes {
		if err := sl.DeletePrefix(nil); err != nil {
			return fmt.Errorf("bridge: deregister: %w", err)
		}
	}
	return p.cursors.Delete([]byte(p.spaceID))
}

// Command roomy-bridge runs the Discord↔Chat bridge daemon: one
// Discord gateway session shared by every registered (guild, space)
// pairing, each relayed through its own *bridge.Bridge.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"roomy.chat/bridge"
	"roomy.chat/kvstore"
	"roomy.chat/model"
	"roomy.chat/transport"
	"roomy.chat/wire"
)

func main() {
	wsAddr := flag.String("ws-addr", "ws://localhost:9090/ws", "event server websocket address")
	serviceToken := flag.String("service-token", "", "short-lived service token for the event server")
	discordToken := flag.String("discord-token", "", "Discord bot token")
	dbPath := flag.String("db", "roomy-bridge.db", "bolt database path for pairing/id-map state")
	profileURL := flag.String("profile-url", "", "base URL of the identity profile-lookup endpoint (optional)")
	flag.Parse()

	if *discordToken == "" {
		log.Fatal("roomy-bridge: -discord-token is required")
	}

	kv, err := kvstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("roomy-bridge: open db: %v", err)
	}
	defer kv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := transport.Dial(ctx, *wsAddr, *serviceToken)
	if err != nil {
		log.Fatalf("roomy-bridge: dial event server: %v", err)
	}
	defer client.Close()

	discord, err := discordgo.New("Bot " + *discordToken)
	if err != nil {
		log.Fatalf("roomy-bridge: create discord session: %v", err)
	}
	discord.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions | discordgo.IntentsMessageContent | discordgo.IntentsGuilds
	if err := discord.Open(); err != nil {
		log.Fatalf("roomy-bridge: open discord gateway: %v", err)
	}
	defer discord.Close()

	rest := bridge.DiscordSession{Session: discord}
	profiles := newProfileLookup(*profileURL)
	logger := slog.Default()

	reg := bridge.NewRegistrationStore(kv)
	bridges := make(map[model.StreamID]*bridge.Bridge)

	pairs, err := reg.All()
	if err != nil {
		log.Fatalf("roomy-bridge: list registered pairs: %v", err)
	}
	if len(pairs) == 0 {
		log.Print("roomy-bridge: no registered (guild, space) pairs; use roomyctl register first")
	}
	for _, p := range pairs {
		spaceID := model.StreamID(p.SpaceID)
		b := bridge.New(p.GuildID, spaceID, discord, rest, client, profiles, kv, logger)
		b.Start()
		defer b.Close()
		if err := client.Subscribe(ctx, spaceID); err != nil {
			log.Printf("roomy-bridge: subscribe %s failed: %v", spaceID, err)
			continue
		}
		bridges[spaceID] = b
		log.Printf("roomy-bridge: bridging guild %s <-> space %s", p.GuildID, spaceID)
	}

	go pumpPushes(ctx, client, bridges, logger)

	log.Print("roomy-bridge: running")
	<-ctx.Done()
	log.Print("roomy-bridge: shutting down")
}

// pumpPushes demultiplexes server-pushed events onto the bridge
// registered for each event's stream, decoding the wire payload and
// handing it to HandleStreamEvent.
func pumpPushes(ctx context.Context, client *transport.WSClient, bridges map[model.StreamID]*bridge.Bridge, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-client.Pushes:
			if !ok {
				return
			}
			b, ok := bridges[env.Stream]
			if !ok {
				continue
			}
			ev, err := wire.Decode(env.Event.Payload)
			if err != nil {
				logger.Error("decode pushed event failed", "stream", env.Stream, "error", err)
				continue
			}
			if err := b.HandleStreamEvent(ctx, env.Event.User, ev); err != nil {
				logger.Error("handle stream event failed", "stream", env.Stream, "error", err)
			}
		}
	}
}

// httpProfileLookup resolves a DID to a display name/avatar via a
// configured HTTP endpoint. Returns the DID itself (no avatar) when no
// profile-url is configured, or on any lookup failure — a relayed
// message still gets sent under that fallback identity.
type httpProfileLookup struct {
	base   string
	client *http.Client
}

func newProfileLookup(base string) httpProfileLookup {
	return httpProfileLookup{base: base, client: &http.Client{Timeout: 10 * time.Second}}
}

type profileResponse struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func (h httpProfileLookup) GetProfile(ctx context.Context, did model.UserDid) (string, string, error) {
	if h.base == "" {
		return string(did), "", nil
	}
	u := h.base + "/profile/" + url.PathEscape(string(did))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return string(did), "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return string(did), "", fmt.Errorf("roomy-bridge: profile lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return string(did), "", fmt.Errorf("roomy-bridge: profile lookup: HTTP %d", resp.StatusCode)
	}

	var parsed profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return string(did), "", err
	}
	if parsed.Name == "" {
		return string(did), parsed.Avatar, nil
	}
	return parsed.Name, parsed.Avatar, nil
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	bridgeWebhookName  = "Roomy Bridge"
	maxChannelWebhooks = 15
	transientAttempts  = 3
	transientBaseDelay = 1 * time.Second
)

// ensureWebhook returns the (id, token) of this pairing's webhook for
// channelID, creating one if absent and evicting the oldest non-bridge
// webhook first if the channel is already at Discord's 15-per-channel
// cap.
func (b *Bridge) ensureWebhook(ctx context.Context, channelID string) (string, string, error) {
	if id, token, ok := b.store.WebhookToken(channelID); ok {
		return id, token, nil
	}

	hooks, err := b.rest.ChannelWebhooks(channelID)
	if err != nil {
		return "", "", fmt.Errorf("bridge: list webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.Name == bridgeWebhookName {
			b.store.SetWebhookToken(channelID, h.ID, h.Token)
			return h.ID, h.Token, nil
		}
	}
	if len(hooks) >= maxChannelWebhooks {
		oldest := hooks[0]
		if err := b.rest.WebhookDelete(oldest.ID); err != nil {
			b.log.Warn("failed evicting webhook to make room", "channel", channelID, "error", err)
		}
	}

	created, err := b.rest.WebhookCreate(channelID, bridgeWebhookName, "")
	if err != nil {
		return "", "", fmt.Errorf("bridge: create webhook: %w", err)
	}
	if err := b.store.SetWebhookToken(channelID, created.ID, created.Token); err != nil {
		b.log.Warn("webhook token cache write failed", "channel", channelID, "error", err)
	}
	return created.ID, created.Token, nil
}

// executeWebhookWithRetry applies the retry taxonomy: unlimited retry
// on 429 honoring the response's retry-after, one webhook
// recreate-and-retry on 404, bounded exponential backoff on 5xx or a
// transport error, and an immediate fatal return on any other 4xx.
func (b *Bridge) executeWebhookWithRetry(ctx context.Context, channelID, webhookID, token string, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	delay := transientBaseDelay
	recreated := false

	for attempt := 0; ; attempt++ {
		msg, err := b.rest.WebhookExecute(webhookID, token, true, params)
		if err == nil {
			return msg, nil
		}

		var rerr *discordgo.RESTError
		if !errors.As(err, &rerr) || rerr.Response == nil {
			if attempt >= transientAttempts-1 {
				return nil, fmt.Errorf("bridge: webhook execute: %w", err)
			}
			if !sleepOrDone(ctx, delay) {
				return nil, ctx.Err()
			}
			delay *= 2
			continue
		}

		switch status := rerr.Response.StatusCode; {
		case status == 429:
			wait := retryAfter(rerr)
			b.log.Warn("webhook rate limited", "channel", channelID, "retryAfter", wait)
			if !sleepOrDone(ctx, wait) {
				return nil, ctx.Err()
			}
			continue
		case status == 404:
			if recreated {
				return nil, fmt.Errorf("bridge: webhook execute: %w", err)
			}
			recreated = true
			b.store.ClearWebhookToken(channelID)
			newID, newToken, werr := b.ensureWebhook(ctx, channelID)
			if werr != nil {
				return nil, fmt.Errorf("bridge: recreate webhook after 404: %w", werr)
			}
			webhookID, token = newID, newToken
			continue
		case status >= 500:
			if attempt >= transientAttempts-1 {
				return nil, fmt.Errorf("bridge: webhook execute: %w", err)
			}
			if !sleepOrDone(ctx, delay) {
				return nil, ctx.Err()
			}
			delay *= 2
			continue
		default:
			return nil, fmt.Errorf("bridge: webhook execute: %w", err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// retryAfter reads Discord's Retry-After header in seconds, falling
// back to the base transient delay if the header is absent or
// unparsable.
func retryAfter(rerr *discordgo.RESTError) time.Duration {
	h := rerr.Response.Header.Get("Retry-After")
	if h == "" {
		return transientBaseDelay
	}
	secs, err := strconv.ParseFloat(h, 64)
	if err != nil || secs <= 0 {
		return transientBaseDelay
	}
	return time.Duration(secs * float64(time.Second))
}

package transport

import (
	"context"
	"log/slog"

	"roomy.chat/materializer"
	"roomy.chat/model"
	"roomy.chat/queue"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

// WindowSize is the fixed backfill fetch size: a response shorter
// than this means the subscription has caught up.
const WindowSize = 2500

// Backfiller drives one subscribed stream: it drains the server's
// backlog in fixed windows, then hands live pushes to the same
// Materializer so the per-stream serialization in Submit keeps them in
// order regardless of whether an event arrived via backfill or push.
type Backfiller struct {
	client   StreamClient
	mat      *materializer.Materializer
	streamID model.StreamID
	log      *slog.Logger

	lastApplied uint64
}

// NewBackfiller starts tracking stream at lastApplied (0 for a stream
// never seen before).
func NewBackfiller(client StreamClient, mat *materializer.Materializer, streamID model.StreamID, lastApplied uint64, log *slog.Logger) *Backfiller {
	if log == nil {
		log = slog.Default()
	}
	return &Backfiller{client: client, mat: mat, streamID: streamID, log: log, lastApplied: lastApplied}
}

// Run fetches windows starting at lastApplied+1 until a window shorter
// than WindowSize (or empty) comes back, submitting each as a
// background-priority batch, then
// switches to pumping pushes until ctx is done. Live pushes that arrive
// interleaved with backfill are buffered by the caller's WSClient and
// drained here after the catch-up completes — materializer.Submit's
// own stream serialization (one Materializer instance per stream) is
// what actually guarantees order, not the order Run happens to call it
// in.
func (b *Backfiller) Run(ctx context.Context, pushes <-chan RawEventEnvelope) error {
	if err := b.catchUp(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-pushes:
			if !ok {
				return nil
			}
			if env.Stream != b.streamID {
				continue
			}
			if err := b.submitRaw(ctx, []RawEvent{env.Event}, queue.PriorityHigh); err != nil {
				b.log.Error("live event submit failed", "stream", b.streamID, "error", err)
			}
		}
	}
}

func (b *Backfiller) catchUp(ctx context.Context) error {
	for {
		events, err := b.client.FetchEvents(ctx, b.streamID, b.lastApplied+1, WindowSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := b.submitRaw(ctx, events, queue.Background); err != nil {
			return err
		}
		b.lastApplied = events[len(events)-1].Idx
		if len(events) < WindowSize {
			return nil
		}
	}
}

func (b *Backfiller) submitRaw(ctx context.Context, events []RawEvent, priority queue.Priority) error {
	batch := materializer.Batch{
		ID:       batchID(b.streamID, events),
		StreamID: b.streamID,
		Priority: priority,
	}
	for _, re := range events {
		ev, err := wire.Decode(re.Payload)
		if err != nil {
			// A malformed payload is a Decode-class error: skip with a
			// warning and still advance the cursor past it.
			b.log.Warn("dropping malformed event payload", "stream", b.streamID, "idx", re.Idx, "error", err)
			continue
		}
		batch.Events = append(batch.Events, materializer.IncomingEvent{
			Idx: re.Idx, Author: re.User, Raw: re.Payload, Event: ev,
		})
	}
	if len(batch.Events) == 0 {
		return nil
	}

	results, err := b.mat.Submit(ctx, batch)
	if err != nil {
		return err
	}
	select {
	case <-results:
	case <-ctx.Done():
	}
	return nil
}

func batchID(stream model.StreamID, events []RawEvent) string {
	if len(events) == 0 {
		return string(stream) + ":empty"
	}
	return string(stream) + ":" + sid.New().String()
}

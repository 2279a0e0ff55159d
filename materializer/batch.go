package materializer

import (
	"log/slog"
	"sync"

	"roomy.chat/model"
	"roomy.chat/queue"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
	"roomy.chat/wire"
)

// IncomingEvent is one event queued for materialization: its raw wire
// bytes (kept for the events table's replay column), its decoded form,
// its position in the stream, and the DID that authored it.
type IncomingEvent struct {
	Idx     uint64
	Author  model.UserDid
	Raw     []byte
	Event   wire.Event
}

// BatchKind distinguishes a fresh window of events from an unstash
// re-pass. Nothing in this package submits a BatchUnstash batch:
// triggerUnstash only logs the stashed events it finds.
type BatchKind int

const (
	BatchEvents BatchKind = iota
	BatchUnstash
)

// Batch is what callers push onto the materializer's event channel —
// a backfill window, a live-event append, or an unstash re-pass.
type Batch struct {
	ID       string
	StreamID model.StreamID
	Events   []IncomingEvent
	Priority queue.Priority
	Kind     BatchKind
}

// BundleResult is the outcome of applying one event's Bundle.
type BundleResult struct {
	EventID sid.ID
	Applied bool
	Err     error
}

// Result is delivered once a submitted Batch has been fully applied.
type Result struct {
	BatchID string
	Bundles []BundleResult
}

// materializedBatch is the internal hop between the materialize loop
// and the apply loop: one Bundle per non-Unknown event (an error
// bundle where Materialize failed), preceded by a profile-ensure
// bundle when enrichment produced statements.
type materializedBatch struct {
	id       string
	streamID model.StreamID
	priority queue.Priority
	bundles  []Bundle
	results  chan Result
}

// Materializer owns the two chained channels and worker loops a single
// open stream's projection runs on: one goroutine turns events into
// Bundles (resolving profiles as needed), the other applies bundles to
// the database under the write lock.
type Materializer struct {
	db       *sqlstore.DB
	enricher *ProfileEnricher
	log      *slog.Logger

	eventCh *queue.Channel[Batch]
	stmtCh  *queue.Channel[materializedBatch]

	pendingMu sync.Mutex
	pending   map[string]chan Result
}

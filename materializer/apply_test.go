package materializer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"roomy.chat/kvstore"
	"roomy.chat/lock"
	"roomy.chat/model"
	"roomy.chat/queue"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
	"roomy.chat/wire"
)

type stubBackend struct{}

func (stubBackend) GetProfile(ctx context.Context, did model.UserDid) (Profile, error) {
	return Profile{Name: string(did)}, nil
}

func newTestMaterializer(t *testing.T) (*Materializer, *sqlstore.DB) {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	mgr := lock.NewManager(kv, "test-proc")
	db, err := sqlstore.Open(filepath.Join(t.TempDir(), "store.db"), mgr)
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	m := NewMaterializer(db, stubBackend{}, nil)
	return m, db
}

func submitAndWait(t *testing.T, ctx context.Context, m *Materializer, batch Batch) Result {
	t.Helper()
	results, err := m.Submit(ctx, batch)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch result")
	}
	return Result{}
}

func TestMaterializerAppliesCreateRoomEndToEnd(t *testing.T) {
	m, db := newTestMaterializer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	t.Cleanup(m.Stop)

	roomID := sid.New()
	batch := Batch{
		ID:       "batch-1",
		StreamID: "did:plc:space1",
		Priority: queue.PriorityHigh,
		Events: []IncomingEvent{
			{Idx: 1, Author: "did:plc:alice", Event: wire.CreateRoom{
				Base: wire.Base{EventID: roomID},
				Name: "general",
				Kind: wire.RoomKindChannel,
			}},
		},
	}

	result := submitAndWait(t, ctx, m, batch)
	if len(result.Bundles) != 1 || !result.Bundles[0].Applied {
		t.Fatalf("result = %+v, want one applied bundle", result)
	}

	rows, err := db.Query(ctx, sqlstore.Statement{
		Query: `SELECT name FROM comp_room WHERE entity = ?`,
		Args:  []any{roomID},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "general" {
		t.Fatalf("comp_room rows = %v, want one row named general", rows)
	}

	profileRows, err := db.Query(ctx, sqlstore.Statement{
		Query: `SELECT did FROM comp_user WHERE did = ?`,
		Args:  []any{"did:plc:alice"},
	})
	if err != nil {
		t.Fatalf("query comp_user: %v", err)
	}
	if len(profileRows) != 1 {
		t.Fatalf("expected profile enrichment to materialize comp_user row, got %v", profileRows)
	}
}

func TestMaterializerStashesUnsatisfiedDependency(t *testing.T) {
	m, db := newTestMaterializer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	t.Cleanup(m.Stop)

	target := sid.New()
	replyID := sid.New()

	batch := Batch{
		ID:       "batch-reply",
		StreamID: "did:plc:space1",
		Priority: queue.Background,
		Events: []IncomingEvent{
			{Idx: 1, Author: "did:plc:bob", Event: wire.CreateMessage{
				Base: wire.Base{
					EventID: replyID,
					Extensions: wire.Extensions{
						wire.ReplyExtensionKey: cborEncodeReply(t, target),
					},
				},
				Body: wire.Body{MimeType: "text/plain", Data: "reply to nothing yet"},
			}},
		},
	}

	result := submitAndWait(t, ctx, m, batch)
	if len(result.Bundles) != 1 || result.Bundles[0].Applied {
		t.Fatalf("result = %+v, want the reply stashed (not applied)", result)
	}

	rows, err := db.Query(ctx, sqlstore.Statement{
		Query: `SELECT applied FROM events WHERE entity_ulid = ?`,
		Args:  []any{replyID},
	})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a stashed event row, got %v", rows)
	}
}

func cborEncodeReply(t *testing.T, target sid.ID) cbor.RawMessage {
	t.Helper()
	return rawEncode(t, wire.ReplyExtension{Target: target})
}

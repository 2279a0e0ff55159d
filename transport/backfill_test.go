package transport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"roomy.chat/kvstore"
	"roomy.chat/lock"
	"roomy.chat/materializer"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

type stubBackend struct{}

func (stubBackend) GetProfile(ctx context.Context, did model.UserDid) (materializer.Profile, error) {
	return materializer.Profile{Name: string(did)}, nil
}

func newTestMaterializer(t *testing.T) *materializer.Materializer {
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

	if err := materializer.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return materializer.NewMaterializer(db, stubBackend{}, nil)
}

type fakeClient struct {
	windows [][]RawEvent
	calls   int
}

func (f *fakeClient) CreateStreamFromModuleURL(ctx context.Context, ulid sid.ID, moduleID, moduleURL string, params map[string]any) (model.StreamID, error) {
	return "", nil
}
func (f *fakeClient) Subscribe(ctx context.Context, stream model.StreamID) error   { return nil }
func (f *fakeClient) Unsubscribe(ctx context.Context, stream model.StreamID) error { return nil }
func (f *fakeClient) FetchEvents(ctx context.Context, stream model.StreamID, offset uint64, limit int) ([]RawEvent, error) {
	if f.calls >= len(f.windows) {
		return nil, nil
	}
	w := f.windows[f.calls]
	f.calls++
	return w, nil
}
func (f *fakeClient) SendEvent(ctx context.Context, stream model.StreamID, payload []byte) error {
	return nil
}
func (f *fakeClient) SendEvents(ctx context.Context, stream model.StreamID, payloads [][]byte) error {
	return nil
}

func createRoomPayload(t *testing.T, name string) []byte {
	t.Helper()
	b, err := cbor.Marshal(map[string]any{"$type": "createRoom", "id": sid.New().String(), "name": name, "kind": "channel"})
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	return b
}

func TestBackfillerCatchUpStopsAtShortWindow(t *testing.T) {
	mat := newTestMaterializer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mat.Run(ctx)
	t.Cleanup(mat.Stop)

	client := &fakeClient{
		windows: [][]RawEvent{
			{{Idx: 1, User: "did:plc:a", Payload: createRoomPayload(t, "one")}},
		},
	}
	b := NewBackfiller(client, mat, model.StreamID("did:plc:space1"), 0, nil)
	if err := b.catchUp(ctx); err != nil {
		t.Fatalf("catchUp: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1 (short window stops backfill)", client.calls)
	}
	if b.lastApplied != 1 {
		t.Errorf("lastApplied = %d, want 1", b.lastApplied)
	}
}

func TestBackfillerSkipsMalformedPayloadWithoutFailingBatch(t *testing.T) {
	mat := newTestMaterializer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mat.Run(ctx)
	t.Cleanup(mat.Stop)

	client := &fakeClient{
		windows: [][]RawEvent{
			{
				{Idx: 1, User: "did:plc:a", Payload: []byte("not cbor at all")},
				{Idx: 2, User: "did:plc:a", Payload: createRoomPayload(t, "two")},
			},
		},
	}
	b := NewBackfiller(client, mat, model.StreamID("did:plc:space1"), 0, nil)
	if err := b.catchUp(ctx); err != nil {
		t.Fatalf("catchUp: %v", err)
	}
	if b.lastApplied != 2 {
		t.Errorf("lastApplied = %d, want 2 (window still short-circuits backfill)", b.lastApplied)
	}
}

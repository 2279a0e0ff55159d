package materializer

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/wire"
)

func fixedResolver(author model.UserDid, entity sid.ID) Resolver {
	return func(did model.UserDid) (sid.ID, bool) {
		if did == author {
			return entity, true
		}
		return sid.Nil, false
	}
}

func TestMaterializeCreateRoomProducesEntityAndAuthorEdge(t *testing.T) {
	author := model.UserDid("did:plc:alice")
	authorEntity := sid.New()
	ev := wire.CreateRoom{
		Base: wire.Base{EventID: sid.New()},
		Name: "general",
		Kind: wire.RoomKindChannel,
	}

	bundle, err := Materialize(ev, model.StreamID("did:plc:space1"), author, 1, fixedResolver(author, authorEntity))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if bundle.Kind != BundleSuccess {
		t.Fatalf("Kind = %v, want BundleSuccess", bundle.Kind)
	}
	if bundle.Positioned != ev.EventID {
		t.Errorf("Positioned = %v, want %v", bundle.Positioned, ev.EventID)
	}

	var sawRoom, sawAuthorEdge bool
	for _, stmt := range bundle.Statements {
		switch stmt.Table {
		case "comp_room":
			sawRoom = true
		case "edges":
			sawAuthorEdge = true
		}
	}
	if !sawRoom {
		t.Error("no comp_room statement produced")
	}
	if !sawAuthorEdge {
		t.Error("no author edge statement produced")
	}
}

func TestMaterializeUnresolvedAuthorErrors(t *testing.T) {
	ev := wire.CreateRoom{Base: wire.Base{EventID: sid.New()}, Name: "x", Kind: wire.RoomKindChannel}
	resolve := func(model.UserDid) (sid.ID, bool) { return sid.Nil, false }

	if _, err := Materialize(ev, model.StreamID("s"), model.UserDid("did:plc:ghost"), 1, resolve); err == nil {
		t.Fatal("expected error for unresolved author, got nil")
	}
}

func TestMaterializeCreateMessageWithReplyDependsOnTarget(t *testing.T) {
	author := model.UserDid("did:plc:bob")
	authorEntity := sid.New()
	target := sid.New()

	ev := wire.CreateMessage{
		Base: wire.Base{
			EventID: sid.New(),
			Room:    sid.New(),
			Extensions: wire.Extensions{
				wire.ReplyExtensionKey: rawEncode(t, wire.ReplyExtension{Target: target}),
			},
		},
		Body: wire.Body{MimeType: "text/plain", Data: "hi"},
	}

	bundle, err := Materialize(ev, model.StreamID("did:plc:space1"), author, 2, fixedResolver(author, authorEntity))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(bundle.DependsOn) != 1 || bundle.DependsOn[0] != target {
		t.Errorf("DependsOn = %v, want [%v]", bundle.DependsOn, target)
	}
}

func TestMaterializeCreateMessageWithLinkSetsLinkURL(t *testing.T) {
	author := model.UserDid("did:plc:carol")
	ev := wire.CreateMessage{
		Base: wire.Base{
			EventID: sid.New(),
			Extensions: wire.Extensions{
				wire.LinkExtensionKey: rawEncode(t, wire.LinkExtension{URL: "https://example.com/a"}),
			},
		},
		Body: wire.Body{MimeType: "text/plain", Data: "check this out"},
	}

	bundle, err := Materialize(ev, model.StreamID("s"), author, 5, fixedResolver(author, sid.New()))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if bundle.LinkURL != "https://example.com/a" {
		t.Errorf("LinkURL = %q, want the link extension's URL", bundle.LinkURL)
	}
}

func TestMaterializeEditMessagePatchUsesUDF(t *testing.T) {
	ev := wire.EditMessage{
		Base:   wire.Base{EventID: sid.New()},
		Target: sid.New(),
		Body:   wire.Body{MimeType: wire.DMPPatchMimeType, Data: "@@ -1 +1 @@\n-a\n+b\n"},
	}
	bundle, err := Materialize(ev, model.StreamID("s"), model.UserDid("did:plc:x"), 3,
		fixedResolver(model.UserDid("did:plc:x"), sid.New()))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	var sawPatchCall bool
	for _, stmt := range bundle.Statements {
		if stmt.Table == "comp_content" && strings.Contains(stmt.Query, "apply_dmp_patch") {
			sawPatchCall = true
		}
	}
	if !sawPatchCall {
		t.Error("edit patch did not produce a comp_content statement calling apply_dmp_patch")
	}
}

func TestMaterializeUnknownSkipsWithoutError(t *testing.T) {
	unknown := wire.Unknown{VariantType: "someFutureThing"}
	bundle, err := Materialize(unknown, model.StreamID("s"), model.UserDid("did:plc:x"), 4,
		fixedResolver(model.UserDid("did:plc:x"), sid.New()))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if bundle.Kind != BundleSuccess || len(bundle.Statements) != 0 {
		t.Errorf("Unknown bundle = %+v, want empty success bundle", bundle)
	}
}

func rawEncode(t *testing.T, v any) cbor.RawMessage {
	t.Helper()
	b, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	return cbor.RawMessage(b)
}

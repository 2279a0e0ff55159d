// Package wire decodes the binary event payloads that arrive from a
// stream into tagged Go variants.
//
// Decoding is a total function: an unrecognized $type never fails, it
// comes back as Unknown so the materializer can skip it with a warning
// and stay forward compatible with streams written by a newer client.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"roomy.chat/sid"
)

// Event is implemented by every decoded variant, including Unknown.
type Event interface {
	// Type returns the wire $type discriminator.
	Type() string
	// ID is the event's own sortable id, its natural sort key.
	ID() sid.ID
}

// Extensions carries opaque namespaced side-data, including the
// bridge's origin tags (space.roomy.extension.discord*Origin.v0).
type Extensions map[string]cbor.RawMessage

// Has reports whether an extension key is present.
func (e Extensions) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// Decode unmarshals a namespaced extension value into v.
func (e Extensions) Decode(key string, v any) error {
	raw, ok := e[key]
	if !ok {
		return fmt.Errorf("wire: extension %q absent", key)
	}
	return cbor.Unmarshal(raw, v)
}

// Base is embedded by every concrete variant for the common fields.
type Base struct {
	EventID    sid.ID     `cbor:"id"`
	Room       sid.ID     `cbor:"room,omitempty"`
	After      sid.ID     `cbor:"after,omitempty"`
	Extensions Extensions `cbor:"extensions,omitempty"`
}

func (b Base) ID() sid.ID { return b.EventID }

// envelope is the wire shape used only to sniff $type before decoding
// into the concrete variant struct.
type envelope struct {
	Type string `cbor:"$type"`
}

// DecodeError wraps a payload that named a known $type but failed to
// decode into its concrete struct — distinct from an unknown $type,
// which never errors.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("wire: decode %q: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("wire: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns a raw CBOR payload into a tagged Event variant. Unknown
// $type values decode successfully into Unknown rather than erroring.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	dec, ok := decoders[env.Type]
	if !ok {
		return Unknown{Raw: append([]byte(nil), payload...), VariantType: env.Type}, nil
	}

	ev, err := dec(payload)
	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	return ev, nil
}

type decodeFunc func([]byte) (Event, error)

func decodeInto[T Event](payload []byte, dst *T) (Event, error) {
	if err := cbor.Unmarshal(payload, dst); err != nil {
		return nil, err
	}
	return *dst, nil
}

// decoders is the closed registry of known $type variants. Registering
// happens in init() in each variant's own file so the full set is easy
// to audit at a glance.
var decoders = map[string]decodeFunc{}

func register(typ string, fn decodeFunc) {
	if _, dup := decoders[typ]; dup {
		panic("wire: duplicate variant registration for " + typ)
	}
	decoders[typ] = fn
}

// Unknown is the forward-compatible fallback for any $type this build
// doesn't recognize. Downstream materializers skip it with a warning.
type Unknown struct {
	VariantType string
	Raw         []byte
}

func (u Unknown) Type() string { return u.VariantType }
func (u Unknown) ID() sid.ID   { return sid.Nil }

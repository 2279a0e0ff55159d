// Package sid provides the sortable identifiers used throughout Roomy.
//
// An ID is a millisecond timestamp prefix followed by cryptographic
// randomness, textually sortable in the same order as it was minted.
// The id doubles as its own natural sort key: no separate sequence or
// timestamp column is needed anywhere it's stored.
package sid

import (
	"crypto/rand"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a monotonic, lexicographically sortable identifier.
type ID struct {
	ulid ulid.ULID
}

// Nil is the zero-value ID.
var Nil = ID{}

// monoSource gives strictly increasing randomness for IDs minted within
// the same millisecond, so two IDs created back-to-back still compare
// the way they were created.
var monoSource = ulid.Monotonic(rand.Reader, 0)

// New mints a new ID for the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt mints a new ID for the given time, useful in tests and replay.
func NewAt(t time.Time) ID {
	id, err := ulid.New(ulid.Timestamp(t), monoSource)
	if err != nil {
		// Only fails if the randomness source errors; crypto/rand
		// effectively never does on supported platforms.
		panic(fmt.Sprintf("sid: mint failed: %v", err))
	}
	return ID{ulid: id}
}

// Parse decodes the canonical 26-character textual form.
func Parse(s string) (ID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Nil, fmt.Errorf("sid: parse %q: %w", s, err)
	}
	return ID{ulid: u}, nil
}

// MustParse is Parse, panicking on error. Reserved for constants/tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return id.ulid.String()
}

// IsZero reports whether id is the Nil value.
func (id ID) IsZero() bool {
	return id == Nil
}

// Time returns the millisecond-precision creation time encoded in id.
func (id ID) Time() time.Time {
	return ulid.Time(id.ulid.Time())
}

// Compare orders two IDs the same way their textual form sorts.
func (id ID) Compare(other ID) int {
	return id.ulid.Compare(other.ulid)
}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// MarshalText implements encoding.TextMarshaler so IDs round-trip
// through JSON/CBOR as plain strings.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer so sqlstore can bind an ID directly.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = Nil
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		return id.Scan(string(v))
	default:
		return errors.New("sid: unsupported scan source")
	}
}

package sqlstore

import (
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sergi/go-diff/diffmatchpatch"
	"roomy.chat/sid"
)

// UDF describes a user-defined function to register on every
// connection this package opens. Fn's signature must match one of the
// shapes mattn/go-sqlite3's RegisterFunc accepts.
type UDF struct {
	Name string
	Fn   any
	Pure bool
}

func registerCoreUDFs(conn *sqlite3.SQLiteConn) error {
	funcs := []UDF{
		{"text", udfText, true},
		{"is_ulid", udfIsULID, true},
		{"ulid_timestamp", udfULIDTimestamp, true},
		{"timestamp_to_ulid", udfTimestampToULID, true},
		{"apply_dmp_patch", udfApplyDMPPatch, true},
	}
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.Name, f.Fn, f.Pure); err != nil {
			return err
		}
	}
	return nil
}

// udfText exposes a BLOB column as UTF-8 text, for columns stored raw
// that the engine needs to treat as text in a query.
func udfText(blob []byte) string {
	return string(blob)
}

// udfIsULID reports whether s parses as a sortable id, 1 or 0 (SQLite
// has no boolean type).
func udfIsULID(s string) int {
	if _, err := sid.Parse(s); err != nil {
		return 0
	}
	return 1
}

// udfULIDTimestamp extracts the millisecond timestamp embedded in a
// sortable id, for range queries like "entities created in the last day".
func udfULIDTimestamp(s string) (int64, error) {
	id, err := sid.Parse(s)
	if err != nil {
		return 0, err
	}
	return id.Time().UnixMilli(), nil
}

// udfTimestampToULID produces the lowest-possible id at the given
// millisecond timestamp, usable as a range-scan boundary (e.g. "id >=
// timestamp_to_ulid(since)").
func udfTimestampToULID(ms int64) string {
	return sid.NewAt(time.UnixMilli(ms)).String()
}

// udfApplyDMPPatch applies a Diff-Match-Patch patch set (as produced
// against the existing content) and returns the patched text. Failed
// hunks are skipped by the DMP algorithm itself; this never errors on
// malformed patch text, it just returns the text unpatched.
func udfApplyDMPPatch(text, patch string) (string, error) {
	d := diffmatchpatch.New()
	patches, err := d.PatchFromText(patch)
	if err != nil {
		return text, nil
	}
	result, _ := d.PatchApply(patches, text)
	return result, nil
}

// Package kvstore is a durable embedded key/value store backed by
// go.etcd.io/bbolt. Nested buckets give named "sublevels" so unrelated
// mapping tables (Discord ID maps, profile hashes, webhook tokens,
// durable cursors) share one file without key collisions, and a single
// bbolt.Tx gives atomic multi-key writes across a sublevel.
package kvstore

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when the key doesn't exist.
var ErrNotFound = errors.New("kvstore: not found")

// Store wraps a single bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file and its lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write is one key/value mutation within a Batch. Sublevel names the
// (possibly nested) bucket path the key lives under, created on
// demand. Delete, if true, removes Key instead of writing Value.
type Write struct {
	Sublevel []string
	Key      []byte
	Value    []byte
	Delete   bool
}

// Batch applies every Write atomically in a single bbolt transaction:
// either all of them land, or none do.
func (s *Store) Batch(writes []Write) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, w := range writes {
			b, err := bucketPath(tx, w.Sublevel, true)
			if err != nil {
				return err
			}
			if w.Delete {
				if err := b.Delete(w.Key); err != nil {
					return err
				}
				continue
			}
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Put writes a single key under sublevel. It is Batch with one entry.
func (s *Store) Put(sublevel []string, key, value []byte) error {
	return s.Batch([]Write{{Sublevel: sublevel, Key: key, Value: value}})
}

// Delete removes a single key under sublevel, a no-op if absent.
func (s *Store) Delete(sublevel []string, key []byte) error {
	return s.Batch([]Write{{Sublevel: sublevel, Key: key, Delete: true}})
}

// Get reads a single key under sublevel, returning ErrNotFound if the
// sublevel or the key itself doesn't exist.
func (s *Store) Get(sublevel []string, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucketPath(tx, sublevel, false)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PrefixIterate calls fn for every key in sublevel that begins with
// prefix, in key order, stopping early if fn returns an error.
func (s *Store) PrefixIterate(sublevel []string, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucketPath(tx, sublevel, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePrefix removes every key under sublevel beginning with prefix,
// atomically. Used to clear a stream's or guild's whole bridge state
// in one call when a registration is torn down.
func (s *Store) DeletePrefix(sublevel []string, prefix []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucketPath(tx, sublevel, false)
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// bucketPath walks a nested bucket path, creating buckets along the
// way if create is true. A nil, nil return with create=false means
// some bucket along the path doesn't exist yet.
func bucketPath(tx *bbolt.Tx, sublevel []string, create bool) (*bbolt.Bucket, error) {
	if len(sublevel) == 0 {
		return nil, errors.New("kvstore: empty sublevel path")
	}

	var b *bbolt.Bucket
	for i, name := range sublevel {
		key := []byte(name)
		if i == 0 {
			if create {
				bucket, err := tx.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = bucket
			} else {
				b = tx.Bucket(key)
			}
		} else {
			if create {
				bucket, err := b.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = bucket
			} else {
				b = b.Bucket(key)
			}
		}
		if b == nil {
			return nil, nil
		}
	}
	return b, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

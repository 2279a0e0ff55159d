package kvstore

// Sublevel is a bound handle to one bucket path, so callers that work
// against a single named table (the bridge's per-concern stores, a
// cursor table) don't have to repeat the path on every call. It mirrors
// the per-concern singleton getters of a JSON-file store, but each
// Sublevel is just a cheap value wrapping its owning Store and path
// rather than a separately loaded file.
type Sublevel struct {
	store *Store
	path  []string
}

// Open returns a Sublevel bound to the given bucket path. The buckets
// along the path are created lazily on first write.
func (s *Store) Open(path ...string) Sublevel {
	return Sublevel{store: s, path: append([]string(nil), path...)}
}

func (sl Sublevel) Put(key, value []byte) error {
	return sl.store.Put(sl.path, key, value)
}

func (sl Sublevel) Get(key []byte) ([]byte, error) {
	return sl.store.Get(sl.path, key)
}

func (sl Sublevel) Delete(key []byte) error {
	return sl.store.Delete(sl.path, key)
}

func (sl Sublevel) PrefixIterate(prefix []byte, fn func(key, value []byte) error) error {
	return sl.store.PrefixIterate(sl.path, prefix, fn)
}

func (sl Sublevel) DeletePrefix(prefix []byte) error {
	return sl.store.DeletePrefix(sl.path, prefix)
}

// Batch writes every entry to this Sublevel atomically.
func (sl Sublevel) Batch(entries map[string][]byte) error {
	writes := make([]Write, 0, len(entries))
	for k, v := range entries {
		writes = append(writes, Write{Sublevel: sl.path, Key: []byte(k), Value: v})
	}
	return sl.store.Batch(writes)
}

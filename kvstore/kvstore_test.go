package kvstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTemp(t)

	if err := s.Put([]string{"guild:123", "syncedIds"}, []byte("evt1"), []byte("msg1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get([]string{"guild:123", "syncedIds"}, []byte("evt1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "msg1" {
		t.Errorf("Get = %q, want msg1", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := openTemp(t)

	_, err := s.Get([]string{"guild:123", "syncedIds"}, []byte("nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on missing key: got %v, want ErrNotFound", err)
	}

	// Missing sublevel, not just missing key, should also be ErrNotFound.
	_, err = s.Get([]string{"never-created"}, []byte("nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on missing sublevel: got %v, want ErrNotFound", err)
	}
}

func TestBatchIsAtomic(t *testing.T) {
	s := openTemp(t)

	err := s.Batch([]Write{
		{Sublevel: []string{"cursors"}, Key: []byte("a"), Value: []byte("1")},
		{Sublevel: []string{"cursors"}, Key: []byte("b"), Value: []byte("2")},
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := s.Get([]string{"cursors"}, []byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if string(got) != want {
			t.Errorf("Get(%q) = %q, want %q", k, got, want)
		}
	}
}

func TestNestedSublevelsDontCollide(t *testing.T) {
	s := openTemp(t)

	s.Put([]string{"guild:1", "syncedIds"}, []byte("k"), []byte("guild1"))
	s.Put([]string{"guild:2", "syncedIds"}, []byte("k"), []byte("guild2"))

	v1, _ := s.Get([]string{"guild:1", "syncedIds"}, []byte("k"))
	v2, _ := s.Get([]string{"guild:2", "syncedIds"}, []byte("k"))

	if string(v1) != "guild1" || string(v2) != "guild2" {
		t.Errorf("nested sublevels collided: v1=%q v2=%q", v1, v2)
	}
}

func TestPrefixIterate(t *testing.T) {
	s := openTemp(t)
	sl := s.Open("cursors")

	sl.Put([]byte("leaf:aaa"), []byte("1"))
	sl.Put([]byte("leaf:bbb"), []byte("2"))
	sl.Put([]byte("other:ccc"), []byte("3"))

	var seen []string
	err := sl.PrefixIterate([]byte("leaf:"), func(k, v []byte) error {
		seen = append(seen, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("PrefixIterate: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("PrefixIterate visited %d keys, want 2: %v", len(seen), seen)
	}
}

func TestDeletePrefix(t *testing.T) {
	s := openTemp(t)
	sl := s.Open("cursors")

	sl.Put([]byte("leaf:aaa"), []byte("1"))
	sl.Put([]byte("leaf:bbb"), []byte("2"))
	sl.Put([]byte("other:ccc"), []byte("3"))

	if err := sl.DeletePrefix([]byte("leaf:")); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}

	_, err := sl.Get([]byte("leaf:aaa"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("leaf:aaa should be gone, got err=%v", err)
	}
	got, err := sl.Get([]byte("other:ccc"))
	if err != nil || string(got) != "3" {
		t.Errorf("other:ccc should survive DeletePrefix, got %q, %v", got, err)
	}
}

func TestSublevelBatch(t *testing.T) {
	s := openTemp(t)
	sl := s.Open("profiles")

	err := sl.Batch(map[string][]byte{
		"u1": []byte("hash1"),
		"u2": []byte("hash2"),
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	got, err := sl.Get([]byte("u2"))
	if err != nil || string(got) != "hash2" {
		t.Errorf("Get(u2) = %q, %v, want hash2", got, err)
	}
}

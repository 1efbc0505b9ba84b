package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "kv"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Store{"file": fs, "sqlite": db}
}

func TestStorePutGetDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}
			if err := s.Put("offlineFunctionQueue", []byte(`[1]`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Put("offlineFunctionQueue", []byte(`[1,2]`)); err != nil {
				t.Fatalf("Put(replace) error = %v", err)
			}
			got, err := s.Get("offlineFunctionQueue")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `[1,2]` {
				t.Fatalf("Get() = %s, want [1,2]", got)
			}
			if err := s.Delete("offlineFunctionQueue"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete("offlineFunctionQueue"); err != nil {
				t.Fatalf("Delete(absent) error = %v", err)
			}
			if _, err := s.Get("offlineFunctionQueue"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
			}
			if err := s.Put("  ", nil); err == nil {
				t.Fatalf("Put(blank key) should fail")
			}
		})
	}
}

func TestFileStoreSanitizesKeysAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	path := s.PathForKey("../token_openclaw")
	if strings.Contains(filepath.Base(path), "/") || filepath.Dir(path) != dir {
		t.Fatalf("PathForKey() escaped the store dir: %s", path)
	}

	if err := s.Put("../token_openclaw", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || strings.HasSuffix(entries[0].Name(), ".tmp") {
		t.Fatalf("unexpected dir entries: %v", entries)
	}
}

func TestFileStoreKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	keys := []string{"a/b", "a_b", "a b", "a+b", "a%2Fb", ".", "..", "%2E", "a:b", "a\\b"}
	seen := make(map[string]string)
	for _, key := range keys {
		path := s.PathForKey(key)
		if filepath.Dir(path) != dir {
			t.Fatalf("PathForKey(%q) = %s, outside the store dir", key, path)
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		if strings.HasPrefix(name, ".") {
			t.Fatalf("PathForKey(%q) = %s, hidden file", key, path)
		}
		if other, dup := seen[path]; dup {
			t.Fatalf("keys %q and %q share %s", other, key, path)
		}
		seen[path] = key
		if err := s.Put(key, []byte(key)); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}
	for _, key := range keys {
		got, err := s.Get(key)
		if err != nil || string(got) != key {
			t.Fatalf("Get(%q) = %q, %v", key, got, err)
		}
	}
}

func TestOpenDriver(t *testing.T) {
	if _, err := Open("mongo", t.TempDir()); err == nil {
		t.Fatalf("Open(unknown driver) should fail")
	}
	s, err := Open(DriverSQLite, t.TempDir())
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("Open(sqlite) returned %T", s)
	}
}

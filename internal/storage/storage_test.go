package storage_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sveturs/abkit/internal/storage"
)

// Both implementations must behave the same through the Store interface.
func stores(t *testing.T) map[string]storage.Store {
	t.Helper()

	f, err := storage.OpenFile(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}

	return map[string]storage.Store{
		"memory": storage.NewMemory(),
		"file":   f,
	}
}

func TestStore_SetGet(t *testing.T) {
	for name, s := range stores(t) {
		if err := s.Set("k", "v"); err != nil {
			t.Fatalf("%s: failed to set: %v", name, err)
		}

		got, err := s.Get("k")
		if err != nil {
			t.Fatalf("%s: failed to get: %v", name, err)
		}
		if got != "v" {
			t.Errorf("%s: got %q, want v", name, got)
		}
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		_, err := s.Get("missing")
		if err != storage.ErrNotFound {
			t.Errorf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestStore_Remove(t *testing.T) {
	for name, s := range stores(t) {
		if err := s.Set("k", "v"); err != nil {
			t.Fatalf("%s: failed to set: %v", name, err)
		}
		if err := s.Remove("k"); err != nil {
			t.Fatalf("%s: failed to remove: %v", name, err)
		}
		if _, err := s.Get("k"); err != storage.ErrNotFound {
			t.Errorf("%s: expected ErrNotFound after remove, got %v", name, err)
		}

		// Removing a missing key is not an error
		if err := s.Remove("missing"); err != nil {
			t.Errorf("%s: remove of missing key failed: %v", name, err)
		}
	}
}

func TestStore_Keys(t *testing.T) {
	for name, s := range stores(t) {
		for _, k := range []string{"a", "b", "c"} {
			if err := s.Set(k, "v"); err != nil {
				t.Fatalf("%s: failed to set: %v", name, err)
			}
		}

		keys, err := s.Keys()
		if err != nil {
			t.Fatalf("%s: failed to list keys: %v", name, err)
		}
		sort.Strings(keys)
		if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
			t.Errorf("%s: got keys %v, want [a b c]", name, keys)
		}
	}
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	f, err := storage.OpenFile(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := f.Set("k", "v"); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	reopened, err := storage.OpenFile(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	got, err := reopened.Get("k")
	if err != nil {
		t.Fatalf("failed to get after reopen: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q after reopen, want v", got)
	}
}

func TestFile_MissingFileStartsEmpty(t *testing.T) {
	f, err := storage.OpenFile(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("expected missing file to be fine, got %v", err)
	}

	keys, err := f.Keys()
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty store, got keys %v", keys)
	}
}

func TestFile_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := storage.OpenFile(path); err == nil {
		t.Error("expected error for corrupt store file")
	}
}

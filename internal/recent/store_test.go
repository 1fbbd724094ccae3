package recent

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddMovesDuplicateToFront(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "nested", "history.json"), 0, nil)

	first := filepath.Join(dir, "liver.scn")
	second := filepath.Join(dir, "beam.py")
	for _, path := range []string{first, second, first} {
		if _, err := store.Add(path); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if diff := cmp.Diff([]string{first, second}, entries); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestAddCapsAtLimit(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "history.json"), 3, nil)

	for index := 0; index < 5; index++ {
		if _, err := store.Add(filepath.Join(dir, fmt.Sprintf("scene-%d.scn", index))); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	entries, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	expected := []string{
		filepath.Join(dir, "scene-4.scn"),
		filepath.Join(dir, "scene-3.scn"),
		filepath.Join(dir, "scene-2.scn"),
	}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestListToleratesMissingAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	store := NewStore(path, DefaultLimit, nil)

	entries, err := store.List()
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history for missing file, got %v (%v)", entries, err)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt history: %v", err)
	}
	entries, err = store.List()
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history for corrupt file, got %v (%v)", entries, err)
	}

	entries, err = store.Add(filepath.Join(dir, "liver.scn"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected corrupt history to be replaced, got %v (%v)", entries, err)
	}
}

func TestClearRemovesHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	store := NewStore(path, DefaultLimit, nil)

	if err := store.Clear(); err != nil {
		t.Fatalf("clearing a missing history must succeed: %v", err)
	}
	if _, err := store.Add(filepath.Join(dir, "liver.scn")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected history file to be removed, got %v", err)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestJSONStore(t *testing.T) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	return store
}

func TestJSONStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store { return newTestJSONStore(t) })
}

func TestJSONStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	open := func(t *testing.T) Store {
		store, err := NewJSONStore(path)
		if err != nil {
			t.Fatalf("NewJSONStore: %v", err)
		}
		return store
	}
	testRoundTrip(t, open(t), open)
}

func TestJSONStore_PersistsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tasks.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	listID := newList(t, store, "u1")
	id := addTask(t, store, listID, "write docs", nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc struct {
		Version      int                        `json:"version"`
		Lists        map[string]json.RawMessage `json:"lists"`
		UserBindings map[string]string          `json:"user_bindings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not JSON: %v", err)
	}
	if doc.Version != jsonDocVersion {
		t.Fatalf("version=%d, want %d", doc.Version, jsonDocVersion)
	}
	if doc.UserBindings["u1"] != listID {
		t.Fatalf("binding=%q, want %q", doc.UserBindings["u1"], listID)
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	task, err := reopened.GetTask(context.Background(), listID, id)
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if task.Title != "write docs" {
		t.Fatalf("Title=%q, want %q", task.Title, "write docs")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSyncDir(t *testing.T) {
	if err := syncDir(t.TempDir()); err != nil {
		t.Fatalf("syncDir: %v", err)
	}
	if runtime.GOOS != "windows" {
		if err := syncDir(filepath.Join(t.TempDir(), "gone")); err == nil {
			t.Fatal("syncDir on a missing directory should fail")
		}
	}
}

func TestJSONStore_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewJSONStore(path); err == nil {
		t.Fatalf("NewJSONStore should reject a newer document version")
	}
}

func TestJSONStore_FailedMutationKeepsState(t *testing.T) {
	store := newTestJSONStore(t)
	listID := newList(t, store, "u1")
	addTask(t, store, listID, "a", nil)

	// Point the store at a path whose directory is gone so the flush fails.
	store.path = filepath.Join(t.TempDir(), "missing", "tasks.json")
	if _, err := store.CreateList(context.Background()); err == nil {
		t.Fatalf("CreateList should fail when the document cannot be written")
	}
	active, err := store.ActiveTasks(context.Background(), listID)
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active=%d, want 1", len(active))
	}
	if len(store.doc.Lists) != 1 {
		t.Fatalf("lists=%d after failed write, want 1", len(store.doc.Lists))
	}
}

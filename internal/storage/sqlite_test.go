package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"taskbot/internal/tasks"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "tasks.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	listID := newList(t, store, "u1")
	fireAt := base.Add(90 * time.Minute)
	id := addTask(t, store, listID, "persisted", &tasks.Reminder{FireAt: fireAt})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	task, err := reopened.GetTask(context.Background(), listID, id)
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if task.Title != "persisted" {
		t.Fatalf("Title=%q, want %q", task.Title, "persisted")
	}
	if task.Reminder == nil || !task.Reminder.FireAt.Equal(fireAt) {
		t.Fatalf("Reminder=%+v, want fire at %v", task.Reminder, fireAt)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	open := func(t *testing.T) Store {
		store, err := NewSQLiteStore(dbPath)
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}
	testRoundTrip(t, open(t), open)
}

func TestSQLiteStore_TruncatesToSeconds(t *testing.T) {
	store := newTestStore(t)
	listID := newList(t, store, "u1")
	id, err := store.AddTask(context.Background(), listID, tasks.Task{
		Title:     "precise",
		CreatedAt: base.Add(750 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	task, _ := store.GetTask(context.Background(), listID, id)
	if !task.CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt=%v, want %v", task.CreatedAt, base)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "cassandra"}); err == nil {
		t.Fatalf("Open should reject unknown drivers")
	}
}

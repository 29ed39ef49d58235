package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskbot/internal/tasks"
)

var base = time.Date(2030, 1, 2, 10, 0, 0, 0, time.Local)

// runConformance exercises the Store contract against one backend.
func runConformance(t *testing.T, open func(t *testing.T) Store) {
	t.Run("Bindings", func(t *testing.T) { testBindings(t, open(t)) })
	t.Run("TaskCRUD", func(t *testing.T) { testTaskCRUD(t, open(t)) })
	t.Run("UpdateGuards", func(t *testing.T) { testUpdateGuards(t, open(t)) })
	t.Run("Complete", func(t *testing.T) { testComplete(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Reminders", func(t *testing.T) { testReminders(t, open(t)) })
	t.Run("MarkFiredCAS", func(t *testing.T) { testMarkFiredCAS(t, open(t)) })
}

func newList(t *testing.T, s Store, users ...string) string {
	t.Helper()
	ctx := context.Background()
	listID, err := s.CreateList(ctx)
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	for _, u := range users {
		if err := s.BindUser(ctx, u, listID); err != nil {
			t.Fatalf("BindUser(%s): %v", u, err)
		}
	}
	return listID
}

func addTask(t *testing.T, s Store, listID, title string, reminder *tasks.Reminder) string {
	t.Helper()
	id, err := s.AddTask(context.Background(), listID, tasks.Task{
		Title:     title,
		Status:    tasks.NotStarted,
		CreatedAt: base,
		Reminder:  reminder,
	})
	if err != nil {
		t.Fatalf("AddTask(%s): %v", title, err)
	}
	return id
}

func titles(ts []tasks.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Title)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testBindings(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.ListForUser(ctx, "nobody"); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("ListForUser(unknown) err=%v, want ErrNotFound", err)
	}
	listID := newList(t, s, "u1", "u2")
	got, err := s.ListForUser(ctx, "u2")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if got != listID {
		t.Fatalf("ListForUser=%q, want %q", got, listID)
	}
	// Rebinding to the same list is a no-op.
	if err := s.BindUser(ctx, "u1", listID); err != nil {
		t.Fatalf("BindUser again: %v", err)
	}
	other := newList(t, s)
	if err := s.BindUser(ctx, "u1", other); err == nil {
		t.Fatalf("BindUser to a second list should fail")
	}
	members, err := s.ListMembers(ctx, listID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if !equalStrings(members, []string{"u1", "u2"}) {
		t.Fatalf("members=%v, want [u1 u2]", members)
	}
	if err := s.BindUser(ctx, "u3", "missing-list"); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("BindUser(missing list) err=%v, want ErrListNotFound", err)
	}
}

func testTaskCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	a := addTask(t, s, listID, "a", nil)
	addTask(t, s, listID, "b", nil)
	addTask(t, s, listID, "c", nil)

	active, err := s.ActiveTasks(ctx, listID)
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	if got := titles(active); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Fatalf("active=%v, want [a b c]", got)
	}

	task, err := s.GetTask(ctx, listID, a)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !task.CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt=%v, want %v", task.CreatedAt, base)
	}
	if task.Status != tasks.NotStarted {
		t.Fatalf("Status=%v, want not_started", task.Status)
	}

	updated, err := s.UpdateTask(ctx, listID, a, func(t *tasks.Task) error {
		t.Title = "a2"
		t.Description = "details"
		t.Status = tasks.InProgress
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Title != "a2" || updated.Status != tasks.InProgress {
		t.Fatalf("updated=%+v", updated)
	}
	reloaded, _ := s.GetTask(ctx, listID, a)
	if reloaded.Title != "a2" || reloaded.Description != "details" || reloaded.Status != tasks.InProgress {
		t.Fatalf("reloaded=%+v", reloaded)
	}

	if _, err := s.GetTask(ctx, listID, "missing"); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("GetTask(missing) err=%v, want ErrNotFound", err)
	}
	if _, err := s.ActiveTasks(ctx, "missing-list"); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("ActiveTasks(missing list) err=%v, want ErrListNotFound", err)
	}
	if _, err := s.AddTask(ctx, "missing-list", tasks.Task{Title: "x", CreatedAt: base}); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("AddTask(missing list) err=%v, want ErrListNotFound", err)
	}
}

func testUpdateGuards(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	id := addTask(t, s, listID, "a", nil)

	cases := []struct {
		name string
		fn   func(*tasks.Task) error
	}{
		{"complete", func(t *tasks.Task) error { t.Status = tasks.Completed; return nil }},
		{"blank title", func(t *tasks.Task) error { t.Title = "  "; return nil }},
		{"id change", func(t *tasks.Task) error { t.ID = "other"; return nil }},
	}
	for _, tc := range cases {
		if _, err := s.UpdateTask(ctx, listID, id, tc.fn); !tasks.IsValidation(err) {
			t.Fatalf("%s: err=%v, want ValidationError", tc.name, err)
		}
	}
	sentinel := errors.New("abort")
	if _, err := s.UpdateTask(ctx, listID, id, func(*tasks.Task) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("mutator error=%v, want %v", err, sentinel)
	}
	task, _ := s.GetTask(ctx, listID, id)
	if task.Title != "a" || task.Status != tasks.NotStarted {
		t.Fatalf("rejected updates leaked: %+v", task)
	}
	if _, err := s.UpdateTask(ctx, listID, "missing", func(*tasks.Task) error { return nil }); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("UpdateTask(missing) err=%v, want ErrNotFound", err)
	}
}

func testComplete(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	a := addTask(t, s, listID, "a", nil)
	b := addTask(t, s, listID, "b", nil)
	addTask(t, s, listID, "c", nil)

	first := base.Add(time.Hour)
	done, err := s.MoveToCompleted(ctx, listID, a, first)
	if err != nil {
		t.Fatalf("MoveToCompleted: %v", err)
	}
	if done.Status != tasks.Completed || done.CompletedAt == nil || !done.CompletedAt.Equal(first) {
		t.Fatalf("completed task=%+v", done)
	}
	if _, err := s.MoveToCompleted(ctx, listID, b, first.Add(time.Minute)); err != nil {
		t.Fatalf("MoveToCompleted(b): %v", err)
	}

	active, _ := s.ActiveTasks(ctx, listID)
	if got := titles(active); !equalStrings(got, []string{"c"}) {
		t.Fatalf("active=%v, want [c]", got)
	}
	completed, _ := s.CompletedTasks(ctx, listID)
	if got := titles(completed); !equalStrings(got, []string{"b", "a"}) {
		t.Fatalf("completed=%v, want [b a]", got)
	}

	if _, err := s.MoveToCompleted(ctx, listID, a, first); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("second MoveToCompleted err=%v, want ErrNotFound", err)
	}
	if _, err := s.UpdateTask(ctx, listID, a, func(*tasks.Task) error { return nil }); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("UpdateTask(archived) err=%v, want ErrNotFound", err)
	}
	archived, err := s.GetTask(ctx, listID, a)
	if err != nil {
		t.Fatalf("GetTask(archived): %v", err)
	}
	if archived.Status != tasks.Completed {
		t.Fatalf("archived status=%v", archived.Status)
	}
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	a := addTask(t, s, listID, "a", nil)
	b := addTask(t, s, listID, "b", nil)
	if _, err := s.MoveToCompleted(ctx, listID, b, base); err != nil {
		t.Fatalf("MoveToCompleted: %v", err)
	}
	if err := s.DeleteTask(ctx, listID, a); err != nil {
		t.Fatalf("DeleteTask(active): %v", err)
	}
	if err := s.DeleteTask(ctx, listID, b); err != nil {
		t.Fatalf("DeleteTask(archived): %v", err)
	}
	if err := s.DeleteTask(ctx, listID, a); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("DeleteTask twice err=%v, want ErrNotFound", err)
	}
	active, _ := s.ActiveTasks(ctx, listID)
	completed, _ := s.CompletedTasks(ctx, listID)
	if len(active) != 0 || len(completed) != 0 {
		t.Fatalf("active=%d completed=%d, want 0/0", len(active), len(completed))
	}
}

func testReminders(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1", "u2")
	now := base.Add(time.Hour)

	due1 := addTask(t, s, listID, "due", &tasks.Reminder{FireAt: now.Add(-time.Minute)})
	addTask(t, s, listID, "later", &tasks.Reminder{FireAt: now.Add(30 * time.Minute)})
	addTask(t, s, listID, "soon", &tasks.Reminder{FireAt: now.Add(5 * time.Minute)})
	addTask(t, s, listID, "fired", &tasks.Reminder{FireAt: now.Add(-time.Hour), Fired: true})
	done := addTask(t, s, listID, "done", &tasks.Reminder{FireAt: now.Add(-2 * time.Minute)})
	addTask(t, s, listID, "plain", nil)
	if _, err := s.MoveToCompleted(ctx, listID, done, now); err != nil {
		t.Fatalf("MoveToCompleted: %v", err)
	}

	due, err := s.DueReminders(ctx, now)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due=%+v, want exactly one", due)
	}
	if due[0].TaskID != due1 || due[0].Title != "due" {
		t.Fatalf("due[0]=%+v", due[0])
	}
	if !equalStrings(due[0].Recipients, []string{"u1", "u2"}) {
		t.Fatalf("recipients=%v, want [u1 u2]", due[0].Recipients)
	}

	next, ok, err := s.NextReminder(ctx, now)
	if err != nil {
		t.Fatalf("NextReminder: %v", err)
	}
	if !ok || !next.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("NextReminder=%v ok=%v, want %v", next, ok, now.Add(5*time.Minute))
	}
	if _, ok, _ := s.NextReminder(ctx, now.Add(time.Hour)); ok {
		t.Fatalf("NextReminder past every reminder should report none")
	}
}

func testMarkFiredCAS(t *testing.T, s Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	fireAt := base.Add(time.Minute)
	id := addTask(t, s, listID, "a", &tasks.Reminder{FireAt: fireAt})

	if won, err := s.MarkFired(ctx, listID, id, fireAt.Add(time.Second)); err != nil || won {
		t.Fatalf("MarkFired(wrong time) won=%v err=%v, want false", won, err)
	}
	if won, err := s.MarkFired(ctx, listID, id, fireAt); err != nil || !won {
		t.Fatalf("MarkFired won=%v err=%v, want true", won, err)
	}
	if won, err := s.MarkFired(ctx, listID, id, fireAt); err != nil || won {
		t.Fatalf("MarkFired twice won=%v err=%v, want false", won, err)
	}
	due, _ := s.DueReminders(ctx, fireAt.Add(time.Hour))
	if len(due) != 0 {
		t.Fatalf("fired reminder still due: %+v", due)
	}

	// A new reminder resets the fired flag.
	again := fireAt.Add(time.Hour)
	if _, err := s.UpdateTask(ctx, listID, id, func(t *tasks.Task) error {
		t.Reminder = &tasks.Reminder{FireAt: again}
		return nil
	}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	task, _ := s.GetTask(ctx, listID, id)
	if task.Reminder == nil || task.Reminder.Fired || !task.Reminder.FireAt.Equal(again) {
		t.Fatalf("reminder=%+v", task.Reminder)
	}
	if won, _ := s.MarkFired(ctx, listID, id, fireAt); won {
		t.Fatalf("MarkFired for a replaced reminder should lose")
	}
}

// testRoundTrip fills a store, reopens it and compares everything it reads back.
func testRoundTrip(t *testing.T, s Store, reopen func(t *testing.T) Store) {
	ctx := context.Background()
	listID := newList(t, s, "u1")
	a := addTask(t, s, listID, "a", nil)
	addTask(t, s, listID, "b", &tasks.Reminder{FireAt: base.Add(time.Hour)})
	c := addTask(t, s, listID, "c", nil)
	addTask(t, s, listID, "d", &tasks.Reminder{FireAt: base.Add(2 * time.Hour), Fired: true})
	if _, err := s.UpdateTask(ctx, listID, c, func(task *tasks.Task) error {
		task.Description = "описание"
		task.Status = tasks.InProgress
		return nil
	}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if _, err := s.MoveToCompleted(ctx, listID, a, base.Add(time.Hour)); err != nil {
		t.Fatalf("MoveToCompleted(a): %v", err)
	}
	if _, err := s.MoveToCompleted(ctx, listID, c, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("MoveToCompleted(c): %v", err)
	}
	if err := s.BindUser(ctx, "u2", listID); err != nil {
		t.Fatalf("BindUser(u2): %v", err)
	}

	before := readBack(t, s, listID)
	if got := titles(before.active); !equalStrings(got, []string{"b", "d"}) {
		t.Fatalf("active=%v, want [b d]", got)
	}
	if got := titles(before.completed); !equalStrings(got, []string{"c", "a"}) {
		t.Fatalf("completed=%v, want [c a]", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	after := readBack(t, reopen(t), listID)
	if !equalStrings(after.members, before.members) {
		t.Fatalf("members=%v, want %v", after.members, before.members)
	}
	for _, u := range []string{"u1", "u2"} {
		got, err := after.store.ListForUser(ctx, u)
		if err != nil || got != listID {
			t.Fatalf("ListForUser(%s)=%q,%v, want %q", u, got, err, listID)
		}
	}
	sameTasks(t, "active", after.active, before.active)
	sameTasks(t, "completed", after.completed, before.completed)
}

type storeState struct {
	store     Store
	members   []string
	active    []tasks.Task
	completed []tasks.Task
}

func readBack(t *testing.T, s Store, listID string) storeState {
	t.Helper()
	ctx := context.Background()
	members, err := s.ListMembers(ctx, listID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	active, err := s.ActiveTasks(ctx, listID)
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	completed, err := s.CompletedTasks(ctx, listID)
	if err != nil {
		t.Fatalf("CompletedTasks: %v", err)
	}
	return storeState{store: s, members: members, active: active, completed: completed}
}

func sameTasks(t *testing.T, what string, got, want []tasks.Task) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: %d tasks, want %d", what, len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Title != w.Title || g.Description != w.Description || g.Status != w.Status {
			t.Fatalf("%s[%d]=%+v, want %+v", what, i, g, w)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) || !sameTime(g.CompletedAt, w.CompletedAt) {
			t.Fatalf("%s[%d] times=%v/%v, want %v/%v", what, i, g.CreatedAt, g.CompletedAt, w.CreatedAt, w.CompletedAt)
		}
		if (g.Reminder == nil) != (w.Reminder == nil) {
			t.Fatalf("%s[%d] reminder=%+v, want %+v", what, i, g.Reminder, w.Reminder)
		}
		if w.Reminder != nil && (!g.Reminder.FireAt.Equal(w.Reminder.FireAt) || g.Reminder.Fired != w.Reminder.Fired) {
			t.Fatalf("%s[%d] reminder=%+v, want %+v", what, i, g.Reminder, w.Reminder)
		}
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

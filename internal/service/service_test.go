package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taskbot/internal/storage"
	"taskbot/internal/tasks"
)

var t0 = time.Date(2030, 5, 1, 12, 0, 0, 0, time.Local)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := &fakeClock{now: t0}
	return New(store, append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func TestNew_DefaultLoggerDiscards(t *testing.T) {
	svc, _ := newTestService(t)
	if svc.log == nil || svc.log.Logger.Out != io.Discard {
		t.Fatalf("default logger should discard")
	}
}

func mustStart(t *testing.T, svc *Service, user string) string {
	t.Helper()
	listID, _, err := svc.Start(context.Background(), user)
	if err != nil {
		t.Fatalf("Start(%s): %v", user, err)
	}
	return listID
}

func TestStart_CreatesOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	first, created, err := svc.Start(ctx, "U1")
	if err != nil || !created {
		t.Fatalf("Start created=%v err=%v, want created", created, err)
	}
	second, created, err := svc.Start(ctx, "U1")
	if err != nil || created {
		t.Fatalf("second Start created=%v err=%v, want existing", created, err)
	}
	if first != second {
		t.Fatalf("list changed: %q -> %q", first, second)
	}
}

func TestOperations_RequireBoundList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.AddTask(ctx, "ghost", "x", ""); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("AddTask err=%v, want ErrListNotFound", err)
	}
	if _, err := svc.ActiveTasks(ctx, "ghost"); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("ActiveTasks err=%v, want ErrListNotFound", err)
	}
	if err := svc.DeleteTask(ctx, "ghost", tasks.Ref{TaskID: "x"}); !errors.Is(err, tasks.ErrListNotFound) {
		t.Fatalf("DeleteTask err=%v, want ErrListNotFound", err)
	}
}

func TestAddTask_CreatesNotStarted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")

	task, err := svc.AddTask(ctx, "U1", "  Buy milk  ", "")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.Title != "Buy milk" || task.Status != tasks.NotStarted || !task.CreatedAt.Equal(t0) {
		t.Fatalf("task=%+v", task)
	}
	active, err := svc.ActiveTasks(ctx, "U1")
	if err != nil {
		t.Fatalf("ActiveTasks: %v", err)
	}
	if len(active) != 1 || active[0].Title != "Buy milk" || active[0].Status != tasks.NotStarted {
		t.Fatalf("active=%+v", active)
	}
}

func TestAddTask_BlankTitle(t *testing.T) {
	svc, _ := newTestService(t)
	mustStart(t, svc, "U1")
	if _, err := svc.AddTask(context.Background(), "U1", " \t ", "desc"); !tasks.IsValidation(err) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
}

func TestSetReminder_PastTimeRejected(t *testing.T) {
	var hooked int
	svc, _ := newTestService(t, WithReminderHook(func(tasks.Ref, time.Time) { hooked++ }))
	ctx := context.Background()
	mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "Buy milk", "")
	ref := tasks.Ref{TaskID: task.ID}

	for _, at := range []time.Time{t0.Add(-time.Minute), t0} {
		if _, err := svc.SetReminder(ctx, "U1", ref, at); !tasks.IsValidation(err) {
			t.Fatalf("SetReminder(%v) err=%v, want ValidationError", at, err)
		}
	}
	got, _ := svc.Task(ctx, "U1", ref)
	if got.Reminder != nil {
		t.Fatalf("reminder=%+v, want none", got.Reminder)
	}
	if hooked != 0 {
		t.Fatalf("hook ran %d times for rejected reminders", hooked)
	}

	future := t0.Add(time.Hour)
	if _, err := svc.SetReminder(ctx, "U1", ref, future); err != nil {
		t.Fatalf("SetReminder(future): %v", err)
	}
	if hooked != 1 {
		t.Fatalf("hook ran %d times, want 1", hooked)
	}
}

func TestComplete_IsIdempotent(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "Buy milk", "")
	ref := tasks.Ref{TaskID: task.ID}

	clock.Advance(10 * time.Minute)
	done, err := svc.Complete(ctx, "U1", ref)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("CompletedAt=%v", done.CompletedAt)
	}
	active, _ := svc.ActiveTasks(ctx, "U1")
	completed, _ := svc.CompletedTasks(ctx, "U1")
	if len(active) != 0 || len(completed) != 1 || completed[0].Title != "Buy milk" {
		t.Fatalf("active=%+v completed=%+v", active, completed)
	}

	if _, err := svc.Complete(ctx, "U1", ref); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("second Complete err=%v, want ErrNotFound", err)
	}
	again, _ := svc.CompletedTasks(ctx, "U1")
	if len(again) != 1 {
		t.Fatalf("archive changed after second Complete: %+v", again)
	}
}

func TestSetStatus_CompletedArchives(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "a", "")
	ref := tasks.Ref{TaskID: task.ID}

	if _, err := svc.SetStatus(ctx, "U1", ref, tasks.InProgress); err != nil {
		t.Fatalf("SetStatus(in_progress): %v", err)
	}
	if _, err := svc.SetStatus(ctx, "U1", ref, tasks.NotStarted); err != nil {
		t.Fatalf("SetStatus(not_started): %v", err)
	}
	if _, err := svc.SetStatus(ctx, "U1", ref, tasks.Completed); err != nil {
		t.Fatalf("SetStatus(completed): %v", err)
	}
	active, _ := svc.ActiveTasks(ctx, "U1")
	completed, _ := svc.CompletedTasks(ctx, "U1")
	if len(active) != 0 || len(completed) != 1 {
		t.Fatalf("active=%d completed=%d, want 0/1", len(active), len(completed))
	}
	if _, err := svc.SetStatus(ctx, "U1", ref, tasks.Status(9)); !tasks.IsValidation(err) {
		t.Fatalf("unknown status err=%v, want ValidationError", err)
	}
}

func TestSetStatus_ConcurrentCallsSerialize(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "a", "")
	ref := tasks.Ref{TaskID: task.ID}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		status := tasks.NotStarted
		if i%2 == 0 {
			status = tasks.InProgress
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SetStatus(ctx, "U1", ref, status); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("SetStatus: %v", err)
	}
	got, err := svc.Task(ctx, "U1", ref)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got.Status != tasks.NotStarted && got.Status != tasks.InProgress {
		t.Fatalf("status=%v, want one of the requested values", got.Status)
	}
	if got.Title != "a" {
		t.Fatalf("title=%q corrupted", got.Title)
	}
}

func TestRefFromAnotherList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")
	otherList := mustStart(t, svc, "U2")
	task, _ := svc.AddTask(ctx, "U2", "private", "")

	ref := tasks.Ref{ListID: otherList, TaskID: task.ID}
	if err := svc.DeleteTask(ctx, "U1", ref); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("DeleteTask across lists err=%v, want ErrNotFound", err)
	}
	if _, err := svc.Task(ctx, "U2", ref); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
}

func TestEdits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "a", "old")
	ref := tasks.Ref{TaskID: task.ID}

	if _, err := svc.EditTitle(ctx, "U1", ref, ""); !tasks.IsValidation(err) {
		t.Fatalf("EditTitle(blank) err=%v, want ValidationError", err)
	}
	if _, err := svc.EditTitle(ctx, "U1", ref, "b"); err != nil {
		t.Fatalf("EditTitle: %v", err)
	}
	if _, err := svc.EditDescription(ctx, "U1", ref, ""); err != nil {
		t.Fatalf("EditDescription(empty): %v", err)
	}
	got, _ := svc.Task(ctx, "U1", ref)
	if got.Title != "b" || got.Description != "" {
		t.Fatalf("task=%+v", got)
	}
	if _, err := svc.EditTitle(ctx, "U1", tasks.Ref{TaskID: "missing"}, "x"); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("EditTitle(missing) err=%v, want ErrNotFound", err)
	}
}

func TestSetReminder_ResetsFired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	listID := mustStart(t, svc, "U1")
	task, _ := svc.AddTask(ctx, "U1", "a", "")
	ref := tasks.Ref{TaskID: task.ID}

	at := t0.Add(time.Minute)
	if _, err := svc.SetReminder(ctx, "U1", ref, at); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}
	if won, err := svc.store.MarkFired(ctx, listID, task.ID, at); err != nil || !won {
		t.Fatalf("MarkFired won=%v err=%v", won, err)
	}
	later := t0.Add(2 * time.Minute)
	got, err := svc.SetReminder(ctx, "U1", ref, later)
	if err != nil {
		t.Fatalf("SetReminder again: %v", err)
	}
	if got.Reminder == nil || got.Reminder.Fired || !got.Reminder.FireAt.Equal(later) {
		t.Fatalf("reminder=%+v", got.Reminder)
	}
}

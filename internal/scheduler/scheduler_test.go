package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taskbot/internal/i18n"
	"taskbot/internal/service"
	"taskbot/internal/storage"
	"taskbot/internal/tasks"
)

var t0 = time.Date(2030, 5, 1, 12, 0, 0, 0, time.Local)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sent struct {
	recipient string
	text      string
}

type outbox struct {
	mu      sync.Mutex
	msgs    []sent
	failFor map[string]bool
	ch      chan sent
}

func (o *outbox) Notify(_ context.Context, recipientID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failFor[recipientID] {
		return errors.New("chat unreachable")
	}
	o.msgs = append(o.msgs, sent{recipientID, text})
	if o.ch != nil {
		o.ch <- sent{recipientID, text}
	}
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

type fixture struct {
	store *storage.SQLiteStore
	svc   *service.Service
	clock *clock
	out   *outbox
	sched *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	c := &clock{now: t0}
	out := &outbox{failFor: map[string]bool{}}
	sched := New(store, out, WithClock(c.Now), WithMessages(i18n.New("en")))
	svc := service.New(store, service.WithClock(c.Now), service.WithReminderHook(sched.ReminderSet))
	return &fixture{store: store, svc: svc, clock: c, out: out, sched: sched}
}

func (f *fixture) taskWithReminder(t *testing.T, user, title string, at time.Time) tasks.Task {
	t.Helper()
	ctx := context.Background()
	if _, _, err := f.svc.Start(ctx, user); err != nil {
		t.Fatalf("Start: %v", err)
	}
	task, err := f.svc.AddTask(ctx, user, title, "")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	task, err = f.svc.SetReminder(ctx, user, tasks.Ref{TaskID: task.ID}, at)
	if err != nil {
		t.Fatalf("SetReminder: %v", err)
	}
	return task
}

func TestTick_FiresOnceThenSleeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.taskWithReminder(t, "U1", "Buy milk", t0.Add(5*time.Second))

	sleep, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sleep != 5*time.Second {
		t.Fatalf("sleep=%v, want 5s", sleep)
	}
	if f.out.count() != 0 {
		t.Fatalf("fired early")
	}

	f.clock.Advance(6 * time.Second)
	if _, err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.out.count() != 1 {
		t.Fatalf("sent=%d, want 1", f.out.count())
	}
	if got := f.out.msgs[0]; got.recipient != "U1" || got.text != "⏰ Reminder: Buy milk" {
		t.Fatalf("message=%+v", got)
	}
	stored, _ := f.svc.Task(ctx, "U1", tasks.Ref{TaskID: task.ID})
	if stored.Reminder == nil || !stored.Reminder.Fired {
		t.Fatalf("reminder=%+v, want fired", stored.Reminder)
	}

	sleep, err = f.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.out.count() != 1 {
		t.Fatalf("sent=%d after second tick, want 1", f.out.count())
	}
	if sleep != DefaultFallback {
		t.Fatalf("sleep=%v with nothing pending, want fallback", sleep)
	}
}

func TestTick_ResetReminderFiresAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.taskWithReminder(t, "U1", "a", t0.Add(time.Second))
	f.clock.Advance(2 * time.Second)
	_, _ = f.sched.Tick(ctx)

	if _, err := f.svc.SetReminder(ctx, "U1", tasks.Ref{TaskID: task.ID}, f.clock.Now().Add(time.Second)); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}
	f.clock.Advance(2 * time.Second)
	_, _ = f.sched.Tick(ctx)
	if f.out.count() != 2 {
		t.Fatalf("sent=%d, want 2", f.out.count())
	}
}

func TestTick_DeliveryFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listID, _, _ := f.svc.Start(ctx, "U1")
	if err := f.store.BindUser(ctx, "U2", listID); err != nil {
		t.Fatalf("BindUser: %v", err)
	}
	f.taskWithReminder(t, "U1", "first", t0.Add(time.Second))
	f.taskWithReminder(t, "U1", "second", t0.Add(2*time.Second))
	f.out.failFor["U1"] = true

	f.clock.Advance(time.Minute)
	if _, err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.out.count() != 2 {
		t.Fatalf("sent=%d, want both reminders to reach U2", f.out.count())
	}
	// Failed deliveries are not retried.
	delete(f.out.failFor, "U1")
	_, _ = f.sched.Tick(ctx)
	if f.out.count() != 2 {
		t.Fatalf("sent=%d after retry tick, want 2", f.out.count())
	}
}

func TestTick_Floor(t *testing.T) {
	f := newFixture(t)
	f.taskWithReminder(t, "U1", "a", t0.Add(300*time.Millisecond+time.Second))
	f.clock.Advance(900 * time.Millisecond)
	sleep, err := f.sched.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sleep != DefaultFloor {
		t.Fatalf("sleep=%v, want floor %v", sleep, DefaultFloor)
	}
}

// slowOutbox takes delay of clock time per delivery.
type slowOutbox struct {
	*outbox
	clock *clock
	delay time.Duration
}

func (o slowOutbox) Notify(ctx context.Context, recipientID, text string) error {
	o.clock.Advance(o.delay)
	return o.outbox.Notify(ctx, recipientID, text)
}

func TestTick_SleepMeasuredAfterDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.taskWithReminder(t, "U1", "first", t0.Add(5*time.Second))
	f.taskWithReminder(t, "U1", "second", t0.Add(25*time.Second))
	f.taskWithReminder(t, "U1", "third", t0.Add(40*time.Second))
	slow := New(f.store, slowOutbox{outbox: f.out, clock: f.clock, delay: 30 * time.Second},
		WithClock(f.clock.Now), WithMessages(i18n.New("en")))

	f.clock.Advance(6 * time.Second)
	sleep, err := slow.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// "second" fell due during delivery.
	if sleep != DefaultFloor {
		t.Fatalf("sleep=%v, want floor %v", sleep, DefaultFloor)
	}

	sleep, err = slow.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.out.count() != 2 || f.out.msgs[1].text != "⏰ Reminder: second" {
		t.Fatalf("msgs=%+v, want first then second", f.out.msgs)
	}
	// Clock is at t0+66s after two deliveries; "third" is already overdue.
	if sleep != DefaultFloor {
		t.Fatalf("sleep=%v, want floor %v", sleep, DefaultFloor)
	}
}

func TestTick_SleepAccountsForDeliveryTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.taskWithReminder(t, "U1", "first", t0.Add(5*time.Second))
	f.taskWithReminder(t, "U1", "later", t0.Add(50*time.Second))
	slow := New(f.store, slowOutbox{outbox: f.out, clock: f.clock, delay: 30 * time.Second},
		WithClock(f.clock.Now), WithMessages(i18n.New("en")))

	f.clock.Advance(6 * time.Second)
	sleep, err := slow.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sleep != 14*time.Second {
		t.Fatalf("sleep=%v, want 14s", sleep)
	}
}

// raceStore reschedules the reminder between the due query and MarkFired.
type raceStore struct {
	*storage.SQLiteStore
	svc   *service.Service
	user  string
	later time.Time
}

func (r *raceStore) MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error) {
	if _, err := r.svc.SetReminder(ctx, r.user, tasks.Ref{ListID: listID, TaskID: taskID}, r.later); err != nil {
		return false, err
	}
	return r.SQLiteStore.MarkFired(ctx, listID, taskID, fireAt)
}

func TestTick_RescheduledReminderIsNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.taskWithReminder(t, "U1", "a", t0.Add(time.Second))
	f.clock.Advance(2 * time.Second)

	later := f.clock.Now().Add(time.Hour)
	racy := New(&raceStore{SQLiteStore: f.store, svc: f.svc, user: "U1", later: later}, f.out, WithClock(f.clock.Now))
	if _, err := racy.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.out.count() != 0 {
		t.Fatalf("stale reminder was delivered")
	}
	stored, _ := f.svc.Task(ctx, "U1", tasks.Ref{TaskID: task.ID})
	if stored.Reminder == nil || stored.Reminder.Fired || !stored.Reminder.FireAt.Equal(later) {
		t.Fatalf("reminder=%+v, want pending at %v", stored.Reminder, later)
	}
}

func TestRun_WakeDeliversImmediately(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	out := &outbox{failFor: map[string]bool{}, ch: make(chan sent, 1)}
	sched := New(store, out, WithIntervals(time.Hour, 10*time.Millisecond), WithMessages(i18n.New("en")))
	svc := service.New(store, service.WithReminderHook(sched.ReminderSet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	if _, _, err := svc.Start(ctx, "U1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	task, _ := svc.AddTask(ctx, "U1", "soon", "")
	if _, err := svc.SetReminder(ctx, "U1", tasks.Ref{TaskID: task.ID}, time.Now().Add(1500*time.Millisecond)); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}

	select {
	case msg := <-out.ch:
		if msg.text != "⏰ Reminder: soon" {
			t.Fatalf("text=%q", msg.text)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("reminder not delivered; the loop should not sleep for the 1h fallback")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

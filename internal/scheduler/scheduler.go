// Package scheduler delivers due reminders. It sleeps until the next pending
// reminder instead of polling, and marks a reminder fired before sending so
// that delivery is at most once.
package scheduler

import (
	"context"
	"errors"
	"time"

	"taskbot/internal/i18n"
	"taskbot/internal/logging"
	"taskbot/internal/notify"
	"taskbot/internal/tasks"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFallback = 60 * time.Second
	DefaultFloor    = time.Second
)

// Reminders is the part of the repository the scheduler needs.
type Reminders interface {
	DueReminders(ctx context.Context, now time.Time) ([]tasks.DueReminder, error)
	NextReminder(ctx context.Context, now time.Time) (time.Time, bool, error)
	MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error)
}

// Scheduler is the reminder loop.
type Scheduler struct {
	store Reminders
	out   notify.Notifier
	msg   *i18n.I18n
	log   *logrus.Entry
	now   func() time.Time

	// Fallback is the sleep when no reminder is pending.
	Fallback time.Duration
	// Floor is the shortest sleep between passes.
	Floor time.Duration

	wake chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLogger(log *logrus.Entry) Option { return func(s *Scheduler) { s.log = log } }

func WithMessages(msg *i18n.I18n) Option { return func(s *Scheduler) { s.msg = msg } }

func WithIntervals(fallback, floor time.Duration) Option {
	return func(s *Scheduler) {
		if fallback > 0 {
			s.Fallback = fallback
		}
		if floor > 0 {
			s.Floor = floor
		}
	}
}

// New creates a scheduler reading from store and delivering through out.
func New(store Reminders, out notify.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		out:      out,
		now:      time.Now,
		Fallback: DefaultFallback,
		Floor:    DefaultFloor,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.msg == nil {
		s.msg = i18n.Global()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// Wake makes a sleeping Run loop take another pass now. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ReminderSet matches the task service hook signature.
func (s *Scheduler) ReminderSet(ref tasks.Ref, fireAt time.Time) {
	s.log.WithFields(logrus.Fields{"task": ref.String(), "fire_at": tasks.FormatTime(fireAt)}).Debug("reminder set, waking scheduler")
	s.Wake()
}

// Tick runs one pass and returns how long to sleep before the next one.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	now := s.now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		return s.Fallback, err
	}
	for _, d := range due {
		s.fire(ctx, d)
	}

	// Reminders that fell due while the batch was delivered are still pending
	// after now, so the query keeps the pass start. The sleep is measured
	// from the clock after delivery.
	next, ok, err := s.store.NextReminder(ctx, now)
	if err != nil {
		return s.Fallback, err
	}
	sleep := s.Fallback
	if ok {
		sleep = next.Sub(s.now())
	}
	if sleep < s.Floor {
		sleep = s.Floor
	}
	return sleep, nil
}

func (s *Scheduler) fire(ctx context.Context, d tasks.DueReminder) {
	log := s.log.WithFields(logrus.Fields{
		"list":    d.ListID,
		"task":    d.TaskID,
		"fire_at": tasks.FormatTime(d.FireAt),
	})
	won, err := s.store.MarkFired(ctx, d.ListID, d.TaskID, d.FireAt)
	if err != nil {
		log.WithError(err).Error("mark reminder fired")
		return
	}
	if !won {
		// Rescheduled, completed or already delivered since the query.
		log.Debug("reminder changed before firing, skipped")
		return
	}
	text := s.msg.T("reminder.notify", d.Title)
	for _, recipient := range d.Recipients {
		if err := s.out.Notify(ctx, recipient, text); err != nil {
			var de *tasks.DeliveryError
			if !errors.As(err, &de) {
				err = &tasks.DeliveryError{Recipient: recipient, Err: err}
			}
			log.WithField("recipient", recipient).WithError(err).Warn("reminder delivery failed")
			continue
		}
		log.WithField("recipient", recipient).Info("reminder delivered")
	}
}

// Run loops until ctx is cancelled. Repository failures are logged and the
// pass is retried after Fallback.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		sleep, err := s.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("scheduler pass failed")
			sleep = s.Fallback
		}
		s.log.WithField("sleep", sleep.String()).Debug("scheduler sleeping")
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

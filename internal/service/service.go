// Package service applies the task lifecycle rules on top of a storage.Store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskbot/internal/logging"
	"taskbot/internal/storage"
	"taskbot/internal/tasks"

	"github.com/sirupsen/logrus"
)

// Service is the task service. Every call acts on behalf of a user and
// resolves that user's bound list first.
type Service struct {
	store         storage.Store
	now           func() time.Time
	onReminderSet func(ref tasks.Ref, fireAt time.Time)
	log           *logrus.Entry

	// startMu serializes first-time list creation.
	startMu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReminderHook registers fn to run after a reminder is stored.
func WithReminderHook(fn func(ref tasks.Ref, fireAt time.Time)) Option {
	return func(s *Service) { s.onReminderSet = fn }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// New creates a Service over store.
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// OnReminderSet replaces the reminder hook. Used by bootstrap once the
// scheduler exists.
func (s *Service) OnReminderSet(fn func(ref tasks.Ref, fireAt time.Time)) {
	s.onReminderSet = fn
}

// Start binds user to a new list on first sight. created reports whether a
// list was made by this call.
func (s *Service) Start(ctx context.Context, userID string) (listID string, created bool, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, &tasks.ValidationError{Field: "user", Reason: "user id is empty"}
	}
	s.startMu.Lock()
	defer s.startMu.Unlock()

	listID, err = s.store.ListForUser(ctx, userID)
	if err == nil {
		return listID, false, nil
	}
	if !errors.Is(err, tasks.ErrNotFound) {
		return "", false, err
	}
	listID, err = s.store.CreateList(ctx)
	if err != nil {
		return "", false, err
	}
	if err := s.store.BindUser(ctx, userID, listID); err != nil {
		return "", false, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "list": listID}).Info("list created")
	return listID, true, nil
}

// ListID returns the user's bound list or tasks.ErrListNotFound.
func (s *Service) ListID(ctx context.Context, userID string) (string, error) {
	listID, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return "", tasks.ErrListNotFound
		}
		return "", err
	}
	return listID, nil
}

// resolve checks that ref belongs to the user's list. A ref without a list id
// is taken to mean the user's own list.
func (s *Service) resolve(ctx context.Context, userID string, ref tasks.Ref) (tasks.Ref, error) {
	listID, err := s.ListID(ctx, userID)
	if err != nil {
		return tasks.Ref{}, err
	}
	if strings.TrimSpace(ref.TaskID) == "" {
		return tasks.Ref{}, tasks.ErrNotFound
	}
	if ref.ListID != "" && ref.ListID != listID {
		return tasks.Ref{}, tasks.ErrNotFound
	}
	return tasks.Ref{ListID: listID, TaskID: ref.TaskID}, nil
}

// AddTask creates a NotStarted task at the end of the user's active sequence.
func (s *Service) AddTask(ctx context.Context, userID, title, description string) (tasks.Task, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return tasks.Task{}, err
	}
	listID, err := s.ListID(ctx, userID)
	if err != nil {
		return tasks.Task{}, err
	}
	task := tasks.Task{
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      tasks.NotStarted,
		CreatedAt:   tasks.Truncate(s.now()),
	}
	id, err := s.store.AddTask(ctx, listID, task)
	if err != nil {
		return tasks.Task{}, err
	}
	task.ID = id
	s.log.WithFields(logrus.Fields{"user": userID, "list": listID, "task": id}).Debug("task added")
	return task, nil
}

// EditTitle replaces the title of an active task.
func (s *Service) EditTitle(ctx context.Context, userID string, ref tasks.Ref, title string) (tasks.Task, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return tasks.Task{}, err
	}
	return s.update(ctx, userID, ref, func(t *tasks.Task) error {
		t.Title = title
		return nil
	})
}

// EditDescription replaces the description of an active task. Empty is allowed.
func (s *Service) EditDescription(ctx context.Context, userID string, ref tasks.Ref, description string) (tasks.Task, error) {
	description = strings.TrimSpace(description)
	return s.update(ctx, userID, ref, func(t *tasks.Task) error {
		t.Description = description
		return nil
	})
}

// SetStatus moves a task to any status. Completed is routed through Complete
// so the task is archived in the same step.
func (s *Service) SetStatus(ctx context.Context, userID string, ref tasks.Ref, status tasks.Status) (tasks.Task, error) {
	if !status.Valid() {
		return tasks.Task{}, &tasks.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %d", status)}
	}
	if status == tasks.Completed {
		return s.Complete(ctx, userID, ref)
	}
	return s.update(ctx, userID, ref, func(t *tasks.Task) error {
		t.Status = status
		return nil
	})
}

// Complete archives an active task. A second call fails with tasks.ErrNotFound.
func (s *Service) Complete(ctx context.Context, userID string, ref tasks.Ref) (tasks.Task, error) {
	ref, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return tasks.Task{}, err
	}
	task, err := s.store.MoveToCompleted(ctx, ref.ListID, ref.TaskID, s.now())
	if err != nil {
		return tasks.Task{}, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "task": ref.String()}).Debug("task completed")
	return task, nil
}

// DeleteTask removes a task from whichever sequence holds it.
func (s *Service) DeleteTask(ctx context.Context, userID string, ref tasks.Ref) error {
	ref, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, ref.ListID, ref.TaskID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "task": ref.String()}).Debug("task deleted")
	return nil
}

// SetReminder schedules a one-shot reminder. fireAt must be in the future.
// Any previous reminder is replaced and its fired flag reset.
func (s *Service) SetReminder(ctx context.Context, userID string, ref tasks.Ref, fireAt time.Time) (tasks.Task, error) {
	fireAt = tasks.Truncate(fireAt)
	if !fireAt.After(s.now()) {
		return tasks.Task{}, &tasks.ValidationError{Field: "reminder", Reason: "reminder time must be in the future"}
	}
	ref, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return tasks.Task{}, err
	}
	task, err := s.store.UpdateTask(ctx, ref.ListID, ref.TaskID, func(t *tasks.Task) error {
		t.Reminder = &tasks.Reminder{FireAt: fireAt}
		return nil
	})
	if err != nil {
		return tasks.Task{}, err
	}
	if s.onReminderSet != nil {
		s.onReminderSet(ref, fireAt)
	}
	return task, nil
}

// Task returns one task, active or archived.
func (s *Service) Task(ctx context.Context, userID string, ref tasks.Ref) (tasks.Task, error) {
	ref, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return tasks.Task{}, err
	}
	return s.store.GetTask(ctx, ref.ListID, ref.TaskID)
}

// ActiveTasks returns the user's active tasks in insertion order.
func (s *Service) ActiveTasks(ctx context.Context, userID string) ([]tasks.Task, error) {
	listID, err := s.ListID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ActiveTasks(ctx, listID)
}

// CompletedTasks returns the user's archive, most recent first.
func (s *Service) CompletedTasks(ctx context.Context, userID string) ([]tasks.Task, error) {
	listID, err := s.ListID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.CompletedTasks(ctx, listID)
}

func (s *Service) update(ctx context.Context, userID string, ref tasks.Ref, fn func(*tasks.Task) error) (tasks.Task, error) {
	ref, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return tasks.Task{}, err
	}
	return s.store.UpdateTask(ctx, ref.ListID, ref.TaskID, fn)
}

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &tasks.ValidationError{Field: "title", Reason: "title is empty"}
	}
	return title, nil
}

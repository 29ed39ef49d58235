package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"taskbot/internal/tasks"
)

const jsonDocVersion = 1

// JSONStore 将全部状态保存为单个 JSON 文档
// JSONStore keeps the whole state in one JSON document. Mutations run against
// a copy, the copy is flushed with temp file + fsync + rename, then swapped in.
type JSONStore struct {
	path string

	mu  sync.Mutex
	doc *jsonDoc
}

type jsonDoc struct {
	Version      int                  `json:"version"`
	Lists        map[string]*jsonList `json:"lists"`
	UserBindings map[string]string    `json:"user_bindings"`
}

type jsonList struct {
	CreatedAt string     `json:"created_at"`
	Members   []string   `json:"members"`
	Tasks     []jsonTask `json:"tasks"`
	Completed []jsonTask `json:"completed"`
}

type jsonTask struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	CreatedAt   string        `json:"created_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
	Reminder    *jsonReminder `json:"reminder,omitempty"`
}

type jsonReminder struct {
	FireAt string `json:"fire_at"`
	Fired  bool   `json:"fired"`
}

// NewJSONStore 打开或创建 JSON 文件仓库
// NewJSONStore opens (or creates) the document at path.
func NewJSONStore(path string) (*JSONStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("json store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create json store directory: %w", err)
	}
	doc := &jsonDoc{Version: jsonDocVersion}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, doc); err != nil {
				return nil, fmt.Errorf("parse json store %s: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read json store %s: %w", path, err)
	}
	if doc.Lists == nil {
		doc.Lists = map[string]*jsonList{}
	}
	if doc.UserBindings == nil {
		doc.UserBindings = map[string]string{}
	}
	if doc.Version > jsonDocVersion {
		return nil, fmt.Errorf("json store %s has version %d, newest supported is %d", path, doc.Version, jsonDocVersion)
	}
	doc.Version = jsonDocVersion
	return &JSONStore{path: path, doc: doc}, nil
}

func (s *JSONStore) Close() error { return nil }

// mutate runs fn on a deep copy of the document and commits it only after the
// copy is on disk.
func (s *JSONStore) mutate(ctx context.Context, op string, fn func(doc *jsonDoc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.doc.clone()
	if err != nil {
		return repoErr(op, err)
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, next); err != nil {
		return repoErr(op, err)
	}
	s.doc = next
	return nil
}

func (s *JSONStore) view(ctx context.Context, fn func(doc *jsonDoc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.doc)
}

func (d *jsonDoc) clone() (*jsonDoc, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := &jsonDoc{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	if out.Lists == nil {
		out.Lists = map[string]*jsonList{}
	}
	if out.UserBindings == nil {
		out.UserBindings = map[string]string{}
	}
	return out, nil
}

func (d *jsonDoc) list(listID string) (*jsonList, error) {
	l, ok := d.Lists[listID]
	if !ok {
		return nil, tasks.ErrListNotFound
	}
	return l, nil
}

func writeFileAtomic(path string, doc *jsonDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Windows cannot open a directory for syncing.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// --- Lists & Bindings ---

func (s *JSONStore) CreateList(ctx context.Context) (string, error) {
	id := NewID()
	err := s.mutate(ctx, "create list", func(doc *jsonDoc) error {
		doc.Lists[id] = &jsonList{CreatedAt: nowLocal(), Members: []string{}, Tasks: []jsonTask{}, Completed: []jsonTask{}}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *JSONStore) BindUser(ctx context.Context, userID, listID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &tasks.ValidationError{Field: "user", Reason: "user id is empty"}
	}
	return s.mutate(ctx, "bind user", func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		if existing, ok := doc.UserBindings[userID]; ok && existing != listID {
			return fmt.Errorf("user %s is already bound to list %s", userID, existing)
		}
		doc.UserBindings[userID] = listID
		for _, m := range l.Members {
			if m == userID {
				return nil
			}
		}
		l.Members = append(l.Members, userID)
		return nil
	})
}

func (s *JSONStore) ListForUser(ctx context.Context, userID string) (string, error) {
	var listID string
	err := s.view(ctx, func(doc *jsonDoc) error {
		id, ok := doc.UserBindings[userID]
		if !ok {
			return tasks.ErrNotFound
		}
		listID = id
		return nil
	})
	return listID, err
}

func (s *JSONStore) ListMembers(ctx context.Context, listID string) ([]string, error) {
	var members []string
	err := s.view(ctx, func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		members = append([]string{}, l.Members...)
		return nil
	})
	return members, err
}

// --- Tasks ---

func (s *JSONStore) AddTask(ctx context.Context, listID string, task tasks.Task) (string, error) {
	if strings.TrimSpace(task.ID) == "" {
		task.ID = NewID()
	}
	err := s.mutate(ctx, "add task", func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		if task.Status == tasks.Completed {
			if task.CompletedAt == nil {
				at := task.CreatedAt
				task.CompletedAt = &at
			}
			l.Completed = append([]jsonTask{toJSONTask(task)}, l.Completed...)
			return nil
		}
		l.Tasks = append(l.Tasks, toJSONTask(task))
		return nil
	})
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

func (s *JSONStore) GetTask(ctx context.Context, listID, taskID string) (tasks.Task, error) {
	var out tasks.Task
	err := s.view(ctx, func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		for _, seq := range [][]jsonTask{l.Tasks, l.Completed} {
			if i := indexOf(seq, taskID); i >= 0 {
				out, err = fromJSONTask(seq[i])
				if err != nil {
					return repoErr("get task", err)
				}
				return nil
			}
		}
		return tasks.ErrNotFound
	})
	return out, err
}

func (s *JSONStore) UpdateTask(ctx context.Context, listID, taskID string, fn func(*tasks.Task) error) (tasks.Task, error) {
	var out tasks.Task
	err := s.mutate(ctx, "update task", func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		i := indexOf(l.Tasks, taskID)
		if i < 0 {
			return tasks.ErrNotFound
		}
		before, err := fromJSONTask(l.Tasks[i])
		if err != nil {
			return repoErr("update task", err)
		}
		after := before.Clone()
		if err := fn(&after); err != nil {
			return err
		}
		if err := checkMutation(before, after); err != nil {
			return err
		}
		after.CreatedAt = before.CreatedAt
		l.Tasks[i] = toJSONTask(after)
		out = normalizeTask(after)
		return nil
	})
	return out, err
}

func (s *JSONStore) MoveToCompleted(ctx context.Context, listID, taskID string, completedAt time.Time) (tasks.Task, error) {
	var out tasks.Task
	err := s.mutate(ctx, "complete task", func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		i := indexOf(l.Tasks, taskID)
		if i < 0 {
			return tasks.ErrNotFound
		}
		task, err := fromJSONTask(l.Tasks[i])
		if err != nil {
			return repoErr("complete task", err)
		}
		at := tasks.Truncate(completedAt)
		task.Status = tasks.Completed
		task.CompletedAt = &at
		l.Tasks = append(l.Tasks[:i], l.Tasks[i+1:]...)
		l.Completed = append([]jsonTask{toJSONTask(task)}, l.Completed...)
		out = task
		return nil
	})
	return out, err
}

func (s *JSONStore) DeleteTask(ctx context.Context, listID, taskID string) error {
	return s.mutate(ctx, "delete task", func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		if i := indexOf(l.Tasks, taskID); i >= 0 {
			l.Tasks = append(l.Tasks[:i], l.Tasks[i+1:]...)
			return nil
		}
		if i := indexOf(l.Completed, taskID); i >= 0 {
			l.Completed = append(l.Completed[:i], l.Completed[i+1:]...)
			return nil
		}
		return tasks.ErrNotFound
	})
}

func (s *JSONStore) ActiveTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	return s.readSeq(ctx, listID, func(l *jsonList) []jsonTask { return l.Tasks })
}

func (s *JSONStore) CompletedTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	return s.readSeq(ctx, listID, func(l *jsonList) []jsonTask { return l.Completed })
}

func (s *JSONStore) readSeq(ctx context.Context, listID string, pick func(*jsonList) []jsonTask) ([]tasks.Task, error) {
	out := []tasks.Task{}
	err := s.view(ctx, func(doc *jsonDoc) error {
		l, err := doc.list(listID)
		if err != nil {
			return err
		}
		for _, jt := range pick(l) {
			task, err := fromJSONTask(jt)
			if err != nil {
				return repoErr("read tasks", err)
			}
			out = append(out, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Reminders ---

func (s *JSONStore) DueReminders(ctx context.Context, now time.Time) ([]tasks.DueReminder, error) {
	var due []tasks.DueReminder
	err := s.view(ctx, func(doc *jsonDoc) error {
		for listID, l := range doc.Lists {
			for _, jt := range l.Tasks {
				if jt.Reminder == nil || jt.Reminder.Fired || jt.Status == tasks.Completed.Key() {
					continue
				}
				at, err := tasks.ParseTime(jt.Reminder.FireAt)
				if err != nil {
					return repoErr("due reminders", err)
				}
				if at.After(now) {
					continue
				}
				due = append(due, tasks.DueReminder{
					ListID:     listID,
					TaskID:     jt.ID,
					Title:      jt.Title,
					FireAt:     at,
					Recipients: append([]string{}, l.Members...),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByFireAt(due)
	return due, nil
}

func (s *JSONStore) NextReminder(ctx context.Context, now time.Time) (time.Time, bool, error) {
	var (
		next  time.Time
		found bool
	)
	err := s.view(ctx, func(doc *jsonDoc) error {
		for _, l := range doc.Lists {
			for _, jt := range l.Tasks {
				if jt.Reminder == nil || jt.Reminder.Fired || jt.Status == tasks.Completed.Key() {
					continue
				}
				at, err := tasks.ParseTime(jt.Reminder.FireAt)
				if err != nil {
					return repoErr("next reminder", err)
				}
				if !at.After(now) {
					continue
				}
				if !found || at.Before(next) {
					next, found = at, true
				}
			}
		}
		return nil
	})
	return next, found, err
}

func (s *JSONStore) MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error) {
	won := false
	err := s.mutate(ctx, "mark fired", func(doc *jsonDoc) error {
		l, ok := doc.Lists[listID]
		if !ok {
			return nil
		}
		i := indexOf(l.Tasks, taskID)
		if i < 0 {
			return nil
		}
		r := l.Tasks[i].Reminder
		if r == nil || r.Fired || r.FireAt != tasks.FormatTime(fireAt) {
			return nil
		}
		r.Fired = true
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// --- Helpers ---

func indexOf(seq []jsonTask, taskID string) int {
	for i := range seq {
		if seq[i].ID == taskID {
			return i
		}
	}
	return -1
}

func toJSONTask(t tasks.Task) jsonTask {
	jt := jsonTask{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status.Key(),
		CreatedAt:   tasks.FormatTime(t.CreatedAt),
	}
	if t.CompletedAt != nil {
		jt.CompletedAt = tasks.FormatTime(*t.CompletedAt)
	}
	if t.Reminder != nil {
		jt.Reminder = &jsonReminder{FireAt: tasks.FormatTime(t.Reminder.FireAt), Fired: t.Reminder.Fired}
	}
	return jt
}

func fromJSONTask(jt jsonTask) (tasks.Task, error) {
	status, err := tasks.ParseStatus(jt.Status)
	if err != nil {
		return tasks.Task{}, err
	}
	created, err := tasks.ParseTime(jt.CreatedAt)
	if err != nil {
		return tasks.Task{}, err
	}
	t := tasks.Task{
		ID:          jt.ID,
		Title:       jt.Title,
		Description: jt.Description,
		Status:      status,
		CreatedAt:   created,
	}
	if jt.CompletedAt != "" {
		at, err := tasks.ParseTime(jt.CompletedAt)
		if err != nil {
			return tasks.Task{}, err
		}
		t.CompletedAt = &at
	}
	if jt.Reminder != nil {
		at, err := tasks.ParseTime(jt.Reminder.FireAt)
		if err != nil {
			return tasks.Task{}, err
		}
		t.Reminder = &tasks.Reminder{FireAt: at, Fired: jt.Reminder.Fired}
	}
	return t, nil
}

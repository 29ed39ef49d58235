package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"taskbot/internal/tasks"
)

// Store 任务仓库接口，支持多后端 (SQLite / JSON 文件 / MongoDB)
// Store is the task repository. Every mutation is durable before it returns.
type Store interface {
	// 列表与绑定 / Lists and bindings
	CreateList(ctx context.Context) (string, error)
	BindUser(ctx context.Context, userID, listID string) error
	ListForUser(ctx context.Context, userID string) (string, error)
	ListMembers(ctx context.Context, listID string) ([]string, error)

	// 任务 / Tasks
	AddTask(ctx context.Context, listID string, task tasks.Task) (string, error)
	GetTask(ctx context.Context, listID, taskID string) (tasks.Task, error)
	// UpdateTask applies fn to an active task atomically. fn must not change
	// the ID or move the task to Completed.
	UpdateTask(ctx context.Context, listID, taskID string, fn func(*tasks.Task) error) (tasks.Task, error)
	// MoveToCompleted marks an active task completed and archives it in one step.
	MoveToCompleted(ctx context.Context, listID, taskID string, completedAt time.Time) (tasks.Task, error)
	DeleteTask(ctx context.Context, listID, taskID string) error
	ActiveTasks(ctx context.Context, listID string) ([]tasks.Task, error)
	// CompletedTasks returns the archive, most recently completed first.
	CompletedTasks(ctx context.Context, listID string) ([]tasks.Task, error)

	// 提醒 / Reminders
	DueReminders(ctx context.Context, now time.Time) ([]tasks.DueReminder, error)
	NextReminder(ctx context.Context, now time.Time) (time.Time, bool, error)
	// MarkFired flips fired=true only if the reminder still fires at fireAt
	// and has not fired yet. It reports whether this call won.
	MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error)

	// 生命周期 / Lifecycle
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
	DriverMongo  = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	SQLitePath    string
	JSONPath      string
	MongoURI      string
	MongoDatabase string
}

// Open 按驱动名打开仓库 / Open opens the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case DriverJSON:
		return NewJSONStore(opts.JSONPath)
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func repoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &tasks.RepositoryError{Op: op, Err: err}
}

// checkMutation enforces the invariants a mutator may not break.
func checkMutation(before, after tasks.Task) error {
	if after.ID != before.ID {
		return &tasks.ValidationError{Field: "id", Reason: "task id is immutable"}
	}
	if after.Status == tasks.Completed {
		return &tasks.ValidationError{Field: "status", Reason: "completion must go through MoveToCompleted"}
	}
	if !after.Status.Valid() {
		return &tasks.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %d", after.Status)}
	}
	if strings.TrimSpace(after.Title) == "" {
		return &tasks.ValidationError{Field: "title", Reason: "title is empty"}
	}
	return nil
}

func sortByFireAt(due []tasks.DueReminder) {
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].FireAt.Before(due[j].FireAt)
	})
}

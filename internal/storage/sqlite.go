package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskbot/internal/tasks"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的任务仓库
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; per-task updates are linearizable.
	db.SetMaxOpenConns(1)

	// synchronous=FULL: fired flags are delivery markers and must survive a crash.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lists (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS list_members (
		list_id   TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		user_id   TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY(list_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS user_bindings (
		user_id    TEXT PRIMARY KEY,
		list_id    TEXT NOT NULL REFERENCES lists(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id             TEXT PRIMARY KEY,
		list_id        TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		title          TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'not_started',
		created_at     TEXT NOT NULL,
		completed_at   TEXT,
		completed_seq  INTEGER,
		reminder_at    TEXT,
		reminder_fired INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list_id, completed_seq, seq);
	CREATE INDEX IF NOT EXISTS idx_tasks_reminder ON tasks(reminder_fired, reminder_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Lists & Bindings ---

func (s *SQLiteStore) CreateList(ctx context.Context) (string, error) {
	id := NewID()
	_, err := s.db.ExecContext(ctx, `INSERT INTO lists (id, created_at) VALUES (?, ?)`, id, nowLocal())
	if err != nil {
		return "", repoErr("create list", err)
	}
	return id, nil
}

func (s *SQLiteStore) BindUser(ctx context.Context, userID, listID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &tasks.ValidationError{Field: "user", Reason: "user id is empty"}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repoErr("bind user", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireList(ctx, tx, listID); err != nil {
		return err
	}
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT list_id FROM user_bindings WHERE user_id=?`, userID).Scan(&existing)
	switch {
	case err == nil:
		if existing != listID {
			return fmt.Errorf("user %s is already bound to list %s", userID, existing)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_bindings (user_id, list_id, created_at) VALUES (?, ?, ?)`,
			userID, listID, nowLocal()); err != nil {
			return repoErr("bind user", err)
		}
	default:
		return repoErr("bind user", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO list_members (list_id, user_id, joined_at) VALUES (?, ?, ?)`,
		listID, userID, nowLocal()); err != nil {
		return repoErr("bind user", err)
	}
	return repoErr("bind user", tx.Commit())
}

func (s *SQLiteStore) ListForUser(ctx context.Context, userID string) (string, error) {
	var listID string
	err := s.db.QueryRowContext(ctx, `SELECT list_id FROM user_bindings WHERE user_id=?`, userID).Scan(&listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", tasks.ErrNotFound
		}
		return "", repoErr("list for user", err)
	}
	return listID, nil
}

func (s *SQLiteStore) ListMembers(ctx context.Context, listID string) ([]string, error) {
	if err := requireList(ctx, s.db, listID); err != nil {
		return nil, err
	}
	return queryMembers(ctx, s.db, listID)
}

// --- Tasks ---

const taskColumns = `id, title, description, status, created_at, completed_at, reminder_at, reminder_fired`

func (s *SQLiteStore) AddTask(ctx context.Context, listID string, task tasks.Task) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", repoErr("add task", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireList(ctx, tx, listID); err != nil {
		return "", err
	}
	if strings.TrimSpace(task.ID) == "" {
		task.ID = NewID()
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks WHERE list_id=?`, listID).Scan(&seq); err != nil {
		return "", repoErr("add task", err)
	}
	reminderAt, fired := reminderColumns(task.Reminder)
	var completedAt sql.NullString
	var completedSeq sql.NullInt64
	if task.Status == tasks.Completed {
		at := task.CreatedAt
		if task.CompletedAt != nil {
			at = *task.CompletedAt
		}
		completedAt = sql.NullString{String: tasks.FormatTime(at), Valid: true}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(completed_seq), 0) + 1 FROM tasks WHERE list_id=?`, listID).Scan(&completedSeq.Int64); err != nil {
			return "", repoErr("add task", err)
		}
		completedSeq.Valid = true
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, list_id, seq, title, description, status, created_at, completed_at, completed_seq, reminder_at, reminder_fired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, listID, seq, task.Title, task.Description, task.Status.Key(),
		tasks.FormatTime(task.CreatedAt), completedAt, completedSeq, reminderAt, fired,
	)
	if err != nil {
		return "", repoErr("add task", err)
	}
	if err := tx.Commit(); err != nil {
		return "", repoErr("add task", err)
	}
	return task.ID, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, listID, taskID string) (tasks.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE list_id=? AND id=?`, listID, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks.Task{}, missing(ctx, s.db, listID)
		}
		return tasks.Task{}, repoErr("get task", err)
	}
	return task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, listID, taskID string, fn func(*tasks.Task) error) (tasks.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tasks.Task{}, repoErr("update task", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE list_id=? AND id=? AND completed_seq IS NULL`, listID, taskID)
	before, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks.Task{}, missing(ctx, tx, listID)
		}
		return tasks.Task{}, repoErr("update task", err)
	}
	after := before.Clone()
	if err := fn(&after); err != nil {
		return tasks.Task{}, err
	}
	if err := checkMutation(before, after); err != nil {
		return tasks.Task{}, err
	}
	reminderAt, fired := reminderColumns(after.Reminder)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET title=?, description=?, status=?, reminder_at=?, reminder_fired=?
		WHERE list_id=? AND id=?`,
		after.Title, after.Description, after.Status.Key(), reminderAt, fired, listID, taskID,
	); err != nil {
		return tasks.Task{}, repoErr("update task", err)
	}
	if err := tx.Commit(); err != nil {
		return tasks.Task{}, repoErr("update task", err)
	}
	return normalizeTask(after), nil
}

func (s *SQLiteStore) MoveToCompleted(ctx context.Context, listID, taskID string, completedAt time.Time) (tasks.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tasks.Task{}, repoErr("complete task", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE list_id=? AND id=? AND completed_seq IS NULL`, listID, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks.Task{}, missing(ctx, tx, listID)
		}
		return tasks.Task{}, repoErr("complete task", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(completed_seq), 0) + 1 FROM tasks WHERE list_id=?`, listID).Scan(&seq); err != nil {
		return tasks.Task{}, repoErr("complete task", err)
	}
	completedAt = tasks.Truncate(completedAt)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status=?, completed_at=?, completed_seq=?
		WHERE list_id=? AND id=? AND completed_seq IS NULL`,
		tasks.Completed.Key(), tasks.FormatTime(completedAt), seq, listID, taskID,
	); err != nil {
		return tasks.Task{}, repoErr("complete task", err)
	}
	if err := tx.Commit(); err != nil {
		return tasks.Task{}, repoErr("complete task", err)
	}
	task.Status = tasks.Completed
	task.CompletedAt = &completedAt
	return task, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, listID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE list_id=? AND id=?`, listID, taskID)
	if err != nil {
		return repoErr("delete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return repoErr("delete task", err)
	}
	if n == 0 {
		return missing(ctx, s.db, listID)
	}
	return nil
}

func (s *SQLiteStore) ActiveTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	return s.queryTasks(ctx, listID, `
		SELECT `+taskColumns+` FROM tasks
		WHERE list_id=? AND completed_seq IS NULL ORDER BY seq`)
}

func (s *SQLiteStore) CompletedTasks(ctx context.Context, listID string) ([]tasks.Task, error) {
	return s.queryTasks(ctx, listID, `
		SELECT `+taskColumns+` FROM tasks
		WHERE list_id=? AND completed_seq IS NOT NULL ORDER BY completed_seq DESC`)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, listID, query string) ([]tasks.Task, error) {
	if err := requireList(ctx, s.db, listID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, repoErr("query tasks", err)
	}
	defer rows.Close()

	out := []tasks.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, repoErr("scan task", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("query tasks", err)
	}
	return out, nil
}

// --- Reminders ---

func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time) ([]tasks.DueReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_id, id, title, reminder_at FROM tasks
		WHERE reminder_at IS NOT NULL AND reminder_at <= ? AND reminder_fired = 0
		  AND completed_seq IS NULL AND status != ?
		ORDER BY reminder_at, seq`, tasks.FormatTime(now), tasks.Completed.Key())
	if err != nil {
		return nil, repoErr("due reminders", err)
	}
	var due []tasks.DueReminder
	for rows.Next() {
		var d tasks.DueReminder
		var at string
		if err := rows.Scan(&d.ListID, &d.TaskID, &d.Title, &at); err != nil {
			rows.Close()
			return nil, repoErr("due reminders", err)
		}
		if d.FireAt, err = tasks.ParseTime(at); err != nil {
			rows.Close()
			return nil, repoErr("due reminders", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, repoErr("due reminders", err)
	}
	rows.Close()

	members := map[string][]string{}
	for i := range due {
		listID := due[i].ListID
		if _, ok := members[listID]; !ok {
			m, err := queryMembers(ctx, s.db, listID)
			if err != nil {
				return nil, repoErr("due reminders", err)
			}
			members[listID] = m
		}
		due[i].Recipients = append([]string(nil), members[listID]...)
	}
	return due, nil
}

func (s *SQLiteStore) NextReminder(ctx context.Context, now time.Time) (time.Time, bool, error) {
	var next sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(reminder_at) FROM tasks
		WHERE reminder_at IS NOT NULL AND reminder_at > ? AND reminder_fired = 0
		  AND completed_seq IS NULL AND status != ?`,
		tasks.FormatTime(now), tasks.Completed.Key()).Scan(&next)
	if err != nil {
		return time.Time{}, false, repoErr("next reminder", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	at, err := tasks.ParseTime(next.String)
	if err != nil {
		return time.Time{}, false, repoErr("next reminder", err)
	}
	return at, true, nil
}

func (s *SQLiteStore) MarkFired(ctx context.Context, listID, taskID string, fireAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET reminder_fired = 1
		WHERE list_id=? AND id=? AND reminder_at=? AND reminder_fired = 0 AND completed_seq IS NULL`,
		listID, taskID, tasks.FormatTime(fireAt))
	if err != nil {
		return false, repoErr("mark fired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, repoErr("mark fired", err)
	}
	return n == 1, nil
}

// --- Helpers ---

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (tasks.Task, error) {
	var (
		task        tasks.Task
		status      string
		createdAt   string
		completedAt sql.NullString
		reminderAt  sql.NullString
		fired       int
	)
	if err := row.Scan(&task.ID, &task.Title, &task.Description, &status, &createdAt, &completedAt, &reminderAt, &fired); err != nil {
		return tasks.Task{}, err
	}
	var err error
	if task.Status, err = tasks.ParseStatus(status); err != nil {
		return tasks.Task{}, err
	}
	if task.CreatedAt, err = tasks.ParseTime(createdAt); err != nil {
		return tasks.Task{}, err
	}
	if completedAt.Valid {
		at, err := tasks.ParseTime(completedAt.String)
		if err != nil {
			return tasks.Task{}, err
		}
		task.CompletedAt = &at
	}
	if reminderAt.Valid {
		at, err := tasks.ParseTime(reminderAt.String)
		if err != nil {
			return tasks.Task{}, err
		}
		task.Reminder = &tasks.Reminder{FireAt: at, Fired: fired != 0}
	}
	return task, nil
}

func reminderColumns(r *tasks.Reminder) (sql.NullString, int) {
	if r == nil {
		return sql.NullString{}, 0
	}
	return sql.NullString{String: tasks.FormatTime(r.FireAt), Valid: true}, boolToInt(r.Fired)
}

// normalizeTask applies the same second-precision truncation the columns do.
func normalizeTask(t tasks.Task) tasks.Task {
	t.CreatedAt = tasks.Truncate(t.CreatedAt)
	if t.Reminder != nil {
		t.Reminder.FireAt = tasks.Truncate(t.Reminder.FireAt)
	}
	return t
}

func requireList(ctx context.Context, q queryer, listID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM lists WHERE id=?`, listID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tasks.ErrListNotFound
		}
		return repoErr("lookup list", err)
	}
	return nil
}

// missing tells an absent task apart from an absent list.
func missing(ctx context.Context, q queryer, listID string) error {
	if err := requireList(ctx, q, listID); err != nil {
		return err
	}
	return tasks.ErrNotFound
}

func queryMembers(ctx context.Context, q queryer, listID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM list_members WHERE list_id=? ORDER BY joined_at, user_id`, listID)
	if err != nil {
		return nil, repoErr("list members", err)
	}
	defer rows.Close()
	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, repoErr("list members", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func nowLocal() string {
	return tasks.FormatTime(time.Now())
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

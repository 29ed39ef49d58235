package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"taskbot/internal/tasks"
)

// MigrationReport summarizes a legacy import.
type MigrationReport struct {
	Lists     int
	Tasks     int
	Completed int
	Users     int
	// Warnings lists entries that were skipped and why.
	Warnings []string
}

type legacyFile struct {
	ToDoLists  map[string]legacyList `json:"to_do_lists"`
	UserToList map[string]string     `json:"user_to_list"`
}

type legacyList struct {
	Tasks     []legacyTask `json:"tasks"`
	Completed []legacyTask `json:"completed"`
	Users     []string     `json:"users"`
}

type legacyTask struct {
	Task         string  `json:"task"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	Timestamp    string  `json:"timestamp"`
	ReminderTime *string `json:"reminder_time"`
	Reminded     bool    `json:"reminded"`
	CompletedAt  string  `json:"completed_at"`
}

// legacyStatuses maps the display labels the old bot persisted.
var legacyStatuses = map[string]tasks.Status{
	"не начата":   tasks.NotStarted,
	"в процессе":  tasks.InProgress,
	"выполнена":   tasks.Completed,
	"not_started": tasks.NotStarted,
	"in_progress": tasks.InProgress,
	"completed":   tasks.Completed,
}

// MigrateLegacyJSON 导入旧版机器人的 tasks.json
// MigrateLegacyJSON imports the old bot's tasks.json into store. Users that are
// already bound are left alone, so running it twice is harmless. A missing file
// is not an error.
func MigrateLegacyJSON(ctx context.Context, path string, store Store) (MigrationReport, error) {
	var report MigrationReport
	path = strings.TrimSpace(path)
	if path == "" {
		return report, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, fmt.Errorf("read legacy file: %w", err)
	}
	var legacy legacyFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		return report, fmt.Errorf("parse legacy file %s: %w", path, err)
	}

	// Members come from both the list's users and the user_to_list index.
	members := map[string][]string{}
	for listID, l := range legacy.ToDoLists {
		members[listID] = append(members[listID], l.Users...)
	}
	for userID, listID := range legacy.UserToList {
		members[listID] = append(members[listID], userID)
	}

	listIDs := make([]string, 0, len(legacy.ToDoLists))
	for id := range legacy.ToDoLists {
		listIDs = append(listIDs, id)
	}
	sort.Strings(listIDs)

	for _, legacyID := range listIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		users, err := unboundUsers(ctx, store, dedupe(members[legacyID]))
		if err != nil {
			return report, err
		}
		if len(users) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("list %s: no unbound users, skipped", legacyID))
			continue
		}

		// Users are bound only after every task is copied. A failed run leaves
		// an unbound list behind and the next run starts that list over.
		listID, err := store.CreateList(ctx)
		if err != nil {
			return report, err
		}

		l := legacy.ToDoLists[legacyID]
		for i, lt := range l.Tasks {
			task, err := lt.toTask(false)
			if err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("list %s task %d: %v", legacyID, i, err))
				continue
			}
			if _, err := store.AddTask(ctx, listID, task); err != nil {
				return report, err
			}
			if task.Status == tasks.Completed {
				report.Completed++
			} else {
				report.Tasks++
			}
		}
		// The old file kept completions oldest first; AddTask prepends archived tasks.
		for i, lt := range l.Completed {
			task, err := lt.toTask(true)
			if err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("list %s completed %d: %v", legacyID, i, err))
				continue
			}
			if _, err := store.AddTask(ctx, listID, task); err != nil {
				return report, err
			}
			report.Completed++
		}

		for _, userID := range users {
			if err := store.BindUser(ctx, userID, listID); err != nil {
				return report, fmt.Errorf("bind %s: %w", userID, err)
			}
			report.Users++
		}
		report.Lists++
	}
	return report, nil
}

func (lt legacyTask) toTask(archived bool) (tasks.Task, error) {
	title := strings.TrimSpace(lt.Task)
	if title == "" {
		return tasks.Task{}, fmt.Errorf("empty title")
	}
	status, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(lt.Status))]
	if !ok {
		status = tasks.NotStarted
	}
	if archived {
		status = tasks.Completed
	}
	created := time.Now()
	if strings.TrimSpace(lt.Timestamp) != "" {
		at, err := tasks.ParseTime(lt.Timestamp)
		if err != nil {
			return tasks.Task{}, err
		}
		created = at
	}
	task := tasks.Task{
		Title:       title,
		Description: strings.TrimSpace(lt.Description),
		Status:      status,
		CreatedAt:   tasks.Truncate(created),
	}
	if status == tasks.Completed {
		at := task.CreatedAt
		if strings.TrimSpace(lt.CompletedAt) != "" {
			parsed, err := tasks.ParseTime(lt.CompletedAt)
			if err != nil {
				return tasks.Task{}, err
			}
			at = parsed
		}
		task.CompletedAt = &at
	}
	if lt.ReminderTime != nil && strings.TrimSpace(*lt.ReminderTime) != "" {
		at, err := tasks.ParseTime(*lt.ReminderTime)
		if err != nil {
			return tasks.Task{}, err
		}
		task.Reminder = &tasks.Reminder{FireAt: at, Fired: lt.Reminded}
	}
	return task, nil
}

func unboundUsers(ctx context.Context, store Store, users []string) ([]string, error) {
	var out []string
	for _, u := range users {
		_, err := store.ListForUser(ctx, u)
		switch {
		case err == nil:
		case errors.Is(err, tasks.ErrNotFound):
			out = append(out, u)
		default:
			return nil, err
		}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

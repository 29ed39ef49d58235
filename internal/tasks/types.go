// Package tasks holds the data model shared by the repository, the service layer,
// the reminder scheduler and the conversation machine.
package tasks

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status int

const (
	NotStarted Status = iota
	InProgress
	Completed
)

// Statuses lists every status in display order.
var Statuses = []Status{NotStarted, InProgress, Completed}

// Key returns the stable storage key of the status.
func (s Status) Key() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) String() string { return s.Key() }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= NotStarted && s <= Completed
}

// ParseStatus parses a storage key. Surrounding space and case are ignored.
func ParseStatus(key string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "not_started":
		return NotStarted, nil
	case "in_progress":
		return InProgress, nil
	case "completed":
		return Completed, nil
	default:
		return 0, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", key)}
	}
}

// Reminder is a one-shot notification scheduled for a task.
type Reminder struct {
	FireAt time.Time
	Fired  bool
}

// Task is a single unit of work.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Reminder    *Reminder
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	if t.Reminder != nil {
		r := *t.Reminder
		out.Reminder = &r
	}
	return out
}

// TaskList is a collection of tasks shared by its members.
type TaskList struct {
	ID        string
	Members   []string
	Tasks     []Task
	Completed []Task
}

// Ref addresses a task inside a list.
type Ref struct {
	ListID string
	TaskID string
}

func (r Ref) String() string { return r.ListID + "/" + r.TaskID }

// DueReminder is a reminder that should be delivered now.
type DueReminder struct {
	ListID     string
	TaskID     string
	Title      string
	FireAt     time.Time
	Recipients []string
}

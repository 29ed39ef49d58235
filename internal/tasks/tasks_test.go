package tasks

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(s.Key())
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s.Key(), err)
		}
		if got != s {
			t.Fatalf("ParseStatus(%q)=%v, want %v", s.Key(), got, s)
		}
	}
	if _, err := ParseStatus("done-ish"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if Status(7).Valid() {
		t.Fatalf("Status(7) should be invalid")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.Local)
	s := FormatTime(in)
	if s != "2026-03-14 15:09:26" {
		t.Fatalf("FormatTime=%q", s)
	}
	back, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !back.Equal(Truncate(in)) {
		t.Fatalf("round trip=%v, want %v", back, Truncate(in))
	}
}

func TestParseReminderInput(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
		ok    bool
	}{
		{"25-12-2026 09:30", time.Date(2026, 12, 25, 9, 30, 0, 0, time.Local), true},
		{"2026-12-25 09:30:15", time.Date(2026, 12, 25, 9, 30, 15, 0, time.Local), true},
		{" 2026-12-25 09:30 ", time.Date(2026, 12, 25, 9, 30, 0, 0, time.Local), true},
		{"tomorrow", time.Time{}, false},
		{"32-12-2026 09:30", time.Time{}, false},
	}
	for _, tt := range tests {
		got, err := ParseReminderInput(tt.input)
		if tt.ok != (err == nil) {
			t.Fatalf("ParseReminderInput(%q) err=%v, want ok=%v", tt.input, err, tt.ok)
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Fatalf("ParseReminderInput(%q)=%v, want %v", tt.input, got, tt.want)
		}
		if !tt.ok && !IsValidation(err) {
			t.Fatalf("ParseReminderInput(%q) should be a validation error, got %T", tt.input, err)
		}
	}
}

func TestActionToken(t *testing.T) {
	tests := []struct {
		action Action
		token  string
	}{
		{Action{Kind: ActionList}, "list"},
		{Action{Kind: ActionEditTitle, ListID: "l1", TaskID: "t1"}, "edit:l1:t1"},
		{Action{Kind: ActionSetStatus, ListID: "l1", TaskID: "t1", Extra: "in_progress"}, "set_status:l1:t1:in_progress"},
		{Action{Kind: ActionConfirm, ListID: "l1", TaskID: "t1", Extra: "a:b"}, "yes:l1:t1:a:b"},
	}
	for _, tt := range tests {
		if got := tt.action.Token(); got != tt.token {
			t.Fatalf("Token()=%q, want %q", got, tt.token)
		}
		parsed, err := ParseAction(tt.token)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", tt.token, err)
		}
		if parsed != tt.action {
			t.Fatalf("ParseAction(%q)=%+v, want %+v", tt.token, parsed, tt.action)
		}
	}
	for _, bad := range []string{"", "explode:l1", "   "} {
		if _, err := ParseAction(bad); err == nil {
			t.Fatalf("ParseAction(%q) should fail", bad)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("edit: %w", ErrNotFound)
	if !IsNotFound(wrapped) {
		t.Fatalf("wrapped ErrNotFound not classified")
	}
	if !IsNotFound(ErrListNotFound) {
		t.Fatalf("ErrListNotFound not classified")
	}
	repoErr := &RepositoryError{Op: "add", Err: errors.New("disk full")}
	if IsNotFound(repoErr) || IsValidation(repoErr) {
		t.Fatalf("repository error misclassified")
	}
	var de *DeliveryError
	if !errors.As(fmt.Errorf("x: %w", &DeliveryError{Recipient: "u1", Err: errors.New("503")}), &de) || de.Recipient != "u1" {
		t.Fatalf("DeliveryError not unwrapped")
	}
	c := time.Now()
	orig := Task{ID: "t", CompletedAt: &c, Reminder: &Reminder{FireAt: c}}
	cp := orig.Clone()
	cp.Reminder.Fired = true
	if orig.Reminder.Fired {
		t.Fatalf("Clone shares reminder pointer")
	}
}

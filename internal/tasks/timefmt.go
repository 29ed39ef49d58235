package tasks

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the interop timestamp format, always in local time.
const TimeLayout = "2006-01-02 15:04:05"

// ReminderInputLayout is the format users type reminder times in.
const ReminderInputLayout = "02-01-2006 15:04"

// FormatTime renders t in the interop format.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(TimeLayout)
}

// ParseTime parses an interop timestamp in local time.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// Truncate drops sub-second precision so stored values round-trip exactly.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// ParseReminderInput accepts "DD-MM-YYYY HH:MM" or the interop format.
func ParseReminderInput(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{ReminderInputLayout, TimeLayout, "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "reminder", Reason: fmt.Sprintf("cannot parse %q", s)}
}

package conversation

import "taskbot/internal/tasks"

// State is the per-user position inside a multi-step flow. The set of
// variants is closed; switch on the concrete type.
type State interface {
	// Name is a stable identifier for logs and tests.
	Name() string
	isState()
}

type Idle struct{}

type AwaitingTaskTitle struct{}

type AwaitingTaskDescription struct{ Title string }

type AwaitingEditTitle struct{ Ref tasks.Ref }

type AwaitingEditDescription struct{ Ref tasks.Ref }

type AwaitingReminderTime struct{ Ref tasks.Ref }

type AwaitingStatusChoice struct{ Ref tasks.Ref }

type AwaitingDeleteConfirmation struct{ Ref tasks.Ref }

type AwaitingCompleteConfirmation struct{ Ref tasks.Ref }

func (Idle) Name() string                         { return "idle" }
func (AwaitingTaskTitle) Name() string            { return "awaiting_task_title" }
func (AwaitingTaskDescription) Name() string      { return "awaiting_task_description" }
func (AwaitingEditTitle) Name() string            { return "awaiting_edit_title" }
func (AwaitingEditDescription) Name() string      { return "awaiting_edit_description" }
func (AwaitingReminderTime) Name() string         { return "awaiting_reminder_time" }
func (AwaitingStatusChoice) Name() string         { return "awaiting_status_choice" }
func (AwaitingDeleteConfirmation) Name() string   { return "awaiting_delete_confirmation" }
func (AwaitingCompleteConfirmation) Name() string { return "awaiting_complete_confirmation" }

func (Idle) isState()                         {}
func (AwaitingTaskTitle) isState()            {}
func (AwaitingTaskDescription) isState()      {}
func (AwaitingEditTitle) isState()            {}
func (AwaitingEditDescription) isState()      {}
func (AwaitingReminderTime) isState()         {}
func (AwaitingStatusChoice) isState()         {}
func (AwaitingDeleteConfirmation) isState()   {}
func (AwaitingCompleteConfirmation) isState() {}

// refOf returns the task a parked state is about.
func refOf(s State) (tasks.Ref, bool) {
	switch st := s.(type) {
	case AwaitingEditTitle:
		return st.Ref, true
	case AwaitingEditDescription:
		return st.Ref, true
	case AwaitingReminderTime:
		return st.Ref, true
	case AwaitingStatusChoice:
		return st.Ref, true
	case AwaitingDeleteConfirmation:
		return st.Ref, true
	case AwaitingCompleteConfirmation:
		return st.Ref, true
	default:
		return tasks.Ref{}, false
	}
}

func isIdle(s State) bool {
	_, ok := s.(Idle)
	return ok || s == nil
}

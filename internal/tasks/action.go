package tasks

import (
	"fmt"
	"strings"
)

// ActionKind identifies what a menu selection or command asks for.
type ActionKind string

const (
	ActionStart          ActionKind = "start"
	ActionAdd            ActionKind = "add"
	ActionList           ActionKind = "list"
	ActionCompletedList  ActionKind = "completed"
	ActionHelp           ActionKind = "help"
	ActionCancel         ActionKind = "cancel"
	ActionReset          ActionKind = "reset"
	ActionSkip           ActionKind = "skip"
	ActionEditTitle      ActionKind = "edit"
	ActionEditDesc       ActionKind = "edit_desc"
	ActionRemind         ActionKind = "remind"
	ActionStatus         ActionKind = "status"
	ActionSetStatus      ActionKind = "set_status"
	ActionComplete       ActionKind = "done"
	ActionDelete         ActionKind = "delete"
	ActionConfirm        ActionKind = "yes"
	ActionDecline        ActionKind = "no"
	actionTokenSeparator            = ":"
)

var knownActions = map[ActionKind]bool{
	ActionStart: true, ActionAdd: true, ActionList: true, ActionCompletedList: true,
	ActionHelp: true, ActionCancel: true, ActionReset: true, ActionSkip: true,
	ActionEditTitle: true, ActionEditDesc: true, ActionRemind: true, ActionStatus: true,
	ActionSetStatus: true, ActionComplete: true, ActionDelete: true,
	ActionConfirm: true, ActionDecline: true,
}

// Action is a structured user intent. Transports carry it as an opaque token
// and parse it once at the boundary.
type Action struct {
	Kind   ActionKind
	ListID string
	TaskID string
	Extra  string
}

// Ref returns the task the action targets.
func (a Action) Ref() Ref {
	return Ref{ListID: a.ListID, TaskID: a.TaskID}
}

// HasRef reports whether the action targets a task.
func (a Action) HasRef() bool { return a.TaskID != "" }

// Token encodes the action as "kind:list:task:extra" with empty trailing
// fields dropped.
func (a Action) Token() string {
	parts := []string{string(a.Kind), a.ListID, a.TaskID, a.Extra}
	n := len(parts)
	for n > 1 && parts[n-1] == "" {
		n--
	}
	return strings.Join(parts[:n], actionTokenSeparator)
}

// ParseAction decodes a token produced by Token.
func ParseAction(token string) (Action, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Action{}, fmt.Errorf("empty action token")
	}
	parts := strings.SplitN(token, actionTokenSeparator, 4)
	a := Action{Kind: ActionKind(parts[0])}
	if !knownActions[a.Kind] {
		return Action{}, fmt.Errorf("unknown action %q", parts[0])
	}
	if len(parts) > 1 {
		a.ListID = parts[1]
	}
	if len(parts) > 2 {
		a.TaskID = parts[2]
	}
	if len(parts) > 3 {
		a.Extra = parts[3]
	}
	if strings.Contains(a.ListID, actionTokenSeparator) || strings.Contains(a.TaskID, actionTokenSeparator) {
		return Action{}, fmt.Errorf("malformed action token %q", token)
	}
	return a, nil
}

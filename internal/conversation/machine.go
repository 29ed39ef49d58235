// Package conversation turns inbound chat updates into task service calls.
// Each user has at most one parked State; updates for one user are handled
// one at a time, different users proceed in parallel.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"taskbot/internal/i18n"
	"taskbot/internal/logging"
	"taskbot/internal/notify"
	"taskbot/internal/tasks"

	"github.com/sirupsen/logrus"
)

// DefaultIdleTimeout drops a parked flow nobody has touched for this long.
const DefaultIdleTimeout = 30 * time.Minute

// TaskService is what the machine calls to act on tasks.
type TaskService interface {
	Start(ctx context.Context, userID string) (string, bool, error)
	ListID(ctx context.Context, userID string) (string, error)
	AddTask(ctx context.Context, userID, title, description string) (tasks.Task, error)
	EditTitle(ctx context.Context, userID string, ref tasks.Ref, title string) (tasks.Task, error)
	EditDescription(ctx context.Context, userID string, ref tasks.Ref, description string) (tasks.Task, error)
	SetStatus(ctx context.Context, userID string, ref tasks.Ref, status tasks.Status) (tasks.Task, error)
	Complete(ctx context.Context, userID string, ref tasks.Ref) (tasks.Task, error)
	DeleteTask(ctx context.Context, userID string, ref tasks.Ref) error
	SetReminder(ctx context.Context, userID string, ref tasks.Ref, fireAt time.Time) (tasks.Task, error)
	Task(ctx context.Context, userID string, ref tasks.Ref) (tasks.Task, error)
	ActiveTasks(ctx context.Context, userID string) ([]tasks.Task, error)
	CompletedTasks(ctx context.Context, userID string) ([]tasks.Task, error)
}

// Update is one inbound message or menu selection.
type Update struct {
	UserID string
	Text   string
	// Action is set when the user picked a menu option.
	Action *tasks.Action
}

// Machine is the conversation state machine.
type Machine struct {
	svc         TaskService
	out         notify.Transport
	msg         *i18n.I18n
	log         *logrus.Entry
	now         func() time.Time
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu      sync.Mutex
	state   State
	touched time.Time
	dead    bool
}

// Option customizes a Machine.
type Option func(*Machine)

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithLogger(log *logrus.Entry) Option { return func(m *Machine) { m.log = log } }

func WithMessages(msg *i18n.I18n) Option { return func(m *Machine) { m.msg = msg } }

// WithIdleTimeout sets how long a parked flow survives. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option { return func(m *Machine) { m.idleTimeout = d } }

// New creates a machine.
func New(svc TaskService, out notify.Transport, opts ...Option) *Machine {
	m := &Machine{
		svc:         svc,
		out:         out,
		now:         time.Now,
		idleTimeout: DefaultIdleTimeout,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.msg == nil {
		m.msg = i18n.Global()
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	return m
}

// State returns the user's parked state.
func (m *Machine) State(userID string) State {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok {
		return Idle{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sweep drops sessions untouched since before now-idleTimeout and returns
// how many were dropped. Sessions busy handling an update are skipped.
func (m *Machine) Sweep(now time.Time) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for user, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.touched) > m.idleTimeout {
			if !isIdle(s.state) {
				m.log.WithFields(logrus.Fields{"user": user, "state": s.state.Name()}).Info("abandoned flow swept")
			}
			s.dead = true
			delete(m.sessions, user)
			dropped++
		}
		s.mu.Unlock()
	}
	return dropped
}

// lock returns the user's session, locked.
func (m *Machine) lock(userID string) *session {
	for {
		m.mu.Lock()
		s, ok := m.sessions[userID]
		if !ok {
			s = &session{state: Idle{}, touched: m.now()}
			m.sessions[userID] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// Handle processes one update. The returned error reports outbound delivery
// failures only; every service failure is answered in the chat.
func (m *Machine) Handle(ctx context.Context, u Update) error {
	userID := strings.TrimSpace(u.UserID)
	if userID == "" {
		return errors.New("update without user id")
	}
	s := m.lock(userID)
	defer s.mu.Unlock()

	t := &turn{m: m, ctx: ctx, user: userID, s: s, log: m.log.WithField("user", userID)}
	now := m.now()
	if m.idleTimeout > 0 && !isIdle(s.state) && now.Sub(s.touched) > m.idleTimeout {
		t.log.WithField("state", s.state.Name()).Info("parked flow expired")
		s.state = Idle{}
		t.say("flow.expired")
	}

	action, unknownCommand := m.classify(u)
	switch {
	case action != nil:
		t.action(*action)
	case unknownCommand:
		t.say("error.unknown")
	default:
		t.text(strings.TrimSpace(u.Text))
	}
	s.touched = m.now()
	return errors.Join(t.errs...)
}

var commands = map[string]tasks.ActionKind{
	"/start":     tasks.ActionStart,
	"/add":       tasks.ActionAdd,
	"/list":      tasks.ActionList,
	"/done":      tasks.ActionCompletedList,
	"/completed": tasks.ActionCompletedList,
	"/help":      tasks.ActionHelp,
	"/cancel":    tasks.ActionCancel,
	"/reset":     tasks.ActionReset,
	"/skip":      tasks.ActionSkip,
}

// classify maps commands and main-menu labels to actions. Anything else is
// free text for the current flow step.
func (m *Machine) classify(u Update) (*tasks.Action, bool) {
	if u.Action != nil {
		a := *u.Action
		return &a, false
	}
	text := strings.TrimSpace(u.Text)
	if strings.HasPrefix(text, "/") {
		cmd := strings.ToLower(strings.Fields(text)[0])
		if at := strings.IndexByte(cmd, '@'); at > 0 {
			cmd = cmd[:at]
		}
		if kind, ok := commands[cmd]; ok {
			return &tasks.Action{Kind: kind}, false
		}
		return nil, true
	}
	for _, opt := range m.mainOptions() {
		if text == opt.Label {
			a := opt.Action
			return &a, false
		}
	}
	return nil, false
}

func (m *Machine) mainOptions() []notify.Option {
	return []notify.Option{
		{Label: m.msg.T("menu.add"), Action: tasks.Action{Kind: tasks.ActionAdd}},
		{Label: m.msg.T("menu.list"), Action: tasks.Action{Kind: tasks.ActionList}},
		{Label: m.msg.T("menu.completed"), Action: tasks.Action{Kind: tasks.ActionCompletedList}},
		{Label: m.msg.T("menu.help"), Action: tasks.Action{Kind: tasks.ActionHelp}},
	}
}

func (m *Machine) taskOptions(ref tasks.Ref) []notify.Option {
	mk := func(label string, kind tasks.ActionKind) notify.Option {
		return notify.Option{Label: m.msg.T(label), Action: tasks.Action{Kind: kind, ListID: ref.ListID, TaskID: ref.TaskID}}
	}
	return []notify.Option{
		mk("task.edit", tasks.ActionEditTitle),
		mk("task.edit_desc", tasks.ActionEditDesc),
		mk("task.remind", tasks.ActionRemind),
		mk("task.status", tasks.ActionStatus),
		mk("task.complete", tasks.ActionComplete),
		mk("task.delete", tasks.ActionDelete),
	}
}

func (m *Machine) statusLabel(s tasks.Status) string {
	return m.msg.T("status." + s.Key())
}

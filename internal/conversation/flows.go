package conversation

import (
	"context"
	"errors"
	"strings"

	"taskbot/internal/notify"
	"taskbot/internal/tasks"

	"github.com/sirupsen/logrus"
)

// turn carries one Handle call. The session lock is held throughout.
type turn struct {
	m    *Machine
	ctx  context.Context
	user string
	s    *session
	log  *logrus.Entry
	errs []error
}

// --- Outbound ---

func (t *turn) say(key string, args ...any) {
	t.send(t.m.msg.T(key, args...))
}

func (t *turn) send(text string) {
	if err := t.m.out.Notify(t.ctx, t.user, text); err != nil {
		t.log.WithError(err).Warn("reply delivery failed")
		t.errs = append(t.errs, err)
	}
}

func (t *turn) menu(menu notify.Menu) {
	if err := t.m.out.PresentMenu(t.ctx, t.user, menu); err != nil {
		t.log.WithError(err).Warn("menu delivery failed")
		t.errs = append(t.errs, err)
	}
}

// finish ends a flow: back to Idle with the main menu under text.
func (t *turn) finish(text string) {
	t.s.state = Idle{}
	t.menu(notify.Menu{Text: text, Options: t.m.mainOptions()})
}

// begin parks a new flow, discarding any flow already in progress.
func (t *turn) begin(next State) {
	if !isIdle(t.s.state) {
		t.log.WithFields(logrus.Fields{"from": t.s.state.Name(), "to": next.Name()}).Info("flow discarded")
		t.say("flow.discarded")
	}
	t.s.state = next
}

// fail answers a service error. Validation errors keep the state and
// re-prompt; everything else resets to Idle.
func (t *turn) fail(err error, reprompt func()) {
	switch {
	case tasks.IsValidation(err):
		if reprompt != nil {
			reprompt()
		}
		return
	case errors.Is(err, tasks.ErrListNotFound):
		t.say("error.list_not_found")
	case errors.Is(err, tasks.ErrNotFound):
		t.say("error.not_found")
	default:
		t.log.WithError(err).Error("task operation failed")
		t.say("error.internal")
	}
	t.s.state = Idle{}
}

// --- Actions ---

func (t *turn) action(a tasks.Action) {
	t.log.WithFields(logrus.Fields{"action": string(a.Kind), "state": t.s.state.Name()}).Debug("action")
	switch a.Kind {
	case tasks.ActionStart:
		t.start()
	case tasks.ActionReset:
		t.finish(t.m.msg.T("reset.done"))
	case tasks.ActionCancel:
		if isIdle(t.s.state) {
			t.say("flow.nothing")
			return
		}
		t.finish(t.m.msg.T("flow.cancelled"))
	case tasks.ActionHelp:
		t.say("help.text")
	case tasks.ActionList:
		t.showActive()
	case tasks.ActionCompletedList:
		t.showCompleted()
	case tasks.ActionSkip:
		t.skip()
	case tasks.ActionAdd:
		t.beginAdd()
	case tasks.ActionEditTitle, tasks.ActionEditDesc, tasks.ActionRemind,
		tasks.ActionStatus, tasks.ActionComplete, tasks.ActionDelete:
		t.beginTaskFlow(a)
	case tasks.ActionSetStatus:
		t.pickStatus(a)
	case tasks.ActionConfirm:
		t.confirm(a, true)
	case tasks.ActionDecline:
		t.confirm(a, false)
	default:
		t.say("error.unknown")
	}
}

func (t *turn) start() {
	_, created, err := t.m.svc.Start(t.ctx, t.user)
	if err != nil {
		t.fail(err, nil)
		return
	}
	key := "start.welcome_back"
	if created {
		key = "start.welcome"
	}
	t.finish(t.m.msg.T(key))
}

func (t *turn) showActive() {
	list, err := t.m.svc.ActiveTasks(t.ctx, t.user)
	if err != nil {
		t.replyOnly(err)
		return
	}
	if len(list) == 0 {
		t.say("list.empty")
		return
	}
	listID, err := t.m.svc.ListID(t.ctx, t.user)
	if err != nil {
		t.replyOnly(err)
		return
	}
	for i, task := range list {
		ref := tasks.Ref{ListID: listID, TaskID: task.ID}
		t.menu(notify.Menu{Text: t.describe(i+1, task), Options: t.m.taskOptions(ref)})
	}
}

func (t *turn) showCompleted() {
	list, err := t.m.svc.CompletedTasks(t.ctx, t.user)
	if err != nil {
		t.replyOnly(err)
		return
	}
	if len(list) == 0 {
		t.say("completed.empty")
		return
	}
	items := make([]string, 0, len(list))
	for i, task := range list {
		at := task.CreatedAt
		if task.CompletedAt != nil {
			at = *task.CompletedAt
		}
		item := t.m.msg.T("completed.item", i+1, task.Title, tasks.FormatTime(at))
		if task.Description != "" {
			item += t.m.msg.T("list.item_description", task.Description)
		}
		items = append(items, item)
	}
	t.send(strings.Join(items, "\n\n"))
}

// replyOnly reports an error from a stateless command without touching the flow.
func (t *turn) replyOnly(err error) {
	saved := t.s.state
	t.fail(err, nil)
	if !tasks.IsValidation(err) {
		t.s.state = saved
	}
}

func (t *turn) describe(n int, task tasks.Task) string {
	var b strings.Builder
	b.WriteString(t.m.msg.T("list.item", n, task.Title, t.m.statusLabel(task.Status), tasks.FormatTime(task.CreatedAt)))
	if task.Description != "" {
		b.WriteString(t.m.msg.T("list.item_description", task.Description))
	}
	if task.Reminder != nil {
		b.WriteString(t.m.msg.T("list.item_reminder", tasks.FormatTime(task.Reminder.FireAt)))
		if task.Reminder.Fired {
			b.WriteString(t.m.msg.T("list.item_reminded"))
		}
	}
	return b.String()
}

func (t *turn) skip() {
	switch st := t.s.state.(type) {
	case AwaitingTaskDescription:
		t.addTask(st.Title, "")
	case AwaitingEditDescription:
		t.editDescription(st.Ref, "")
	default:
		t.say("flow.nothing_to_skip")
	}
}

func (t *turn) beginAdd() {
	if _, err := t.m.svc.ListID(t.ctx, t.user); err != nil {
		t.fail(err, nil)
		return
	}
	t.begin(AwaitingTaskTitle{})
	t.say("add.ask_title")
}

func (t *turn) beginTaskFlow(a tasks.Action) {
	if !a.HasRef() {
		t.fail(tasks.ErrNotFound, nil)
		return
	}
	ref := a.Ref()
	task, err := t.m.svc.Task(t.ctx, t.user, ref)
	if err != nil {
		t.fail(err, nil)
		return
	}
	if task.Status == tasks.Completed && a.Kind != tasks.ActionDelete {
		t.fail(tasks.ErrNotFound, nil)
		return
	}
	if ref.ListID == "" {
		if ref.ListID, err = t.m.svc.ListID(t.ctx, t.user); err != nil {
			t.fail(err, nil)
			return
		}
	}

	switch a.Kind {
	case tasks.ActionEditTitle:
		t.begin(AwaitingEditTitle{Ref: ref})
		t.say("edit.ask_title")
	case tasks.ActionEditDesc:
		t.begin(AwaitingEditDescription{Ref: ref})
		t.say("edit.ask_description")
	case tasks.ActionRemind:
		t.begin(AwaitingReminderTime{Ref: ref})
		t.say("remind.ask")
	case tasks.ActionStatus:
		t.begin(AwaitingStatusChoice{Ref: ref})
		t.statusMenu(ref)
	case tasks.ActionComplete:
		t.begin(AwaitingCompleteConfirmation{Ref: ref})
		t.confirmMenu("complete.ask", task.Title, ref)
	case tasks.ActionDelete:
		t.begin(AwaitingDeleteConfirmation{Ref: ref})
		t.confirmMenu("delete.ask", task.Title, ref)
	}
}

func (t *turn) statusMenu(ref tasks.Ref) {
	opts := make([]notify.Option, 0, len(tasks.Statuses))
	for _, st := range tasks.Statuses {
		opts = append(opts, notify.Option{
			Label:  t.m.statusLabel(st),
			Action: tasks.Action{Kind: tasks.ActionSetStatus, ListID: ref.ListID, TaskID: ref.TaskID, Extra: st.Key()},
		})
	}
	t.menu(notify.Menu{Text: t.m.msg.T("status.ask"), Options: opts})
}

func (t *turn) confirmMenu(key, title string, ref tasks.Ref) {
	t.menu(notify.Menu{
		Text: t.m.msg.T(key, title),
		Options: []notify.Option{
			{Label: t.m.msg.T("confirm.yes"), Action: tasks.Action{Kind: tasks.ActionConfirm, ListID: ref.ListID, TaskID: ref.TaskID}},
			{Label: t.m.msg.T("confirm.no"), Action: tasks.Action{Kind: tasks.ActionDecline, ListID: ref.ListID, TaskID: ref.TaskID}},
		},
	})
}

// matches reports whether a button's ref belongs to the parked state.
func matches(parked tasks.Ref, a tasks.Action) bool {
	if !a.HasRef() {
		return true
	}
	if a.TaskID != parked.TaskID {
		return false
	}
	return a.ListID == "" || parked.ListID == "" || a.ListID == parked.ListID
}

func (t *turn) pickStatus(a tasks.Action) {
	st, ok := t.s.state.(AwaitingStatusChoice)
	if !ok || !matches(st.Ref, a) {
		t.say("error.stale")
		return
	}
	status, err := tasks.ParseStatus(a.Extra)
	if err != nil {
		t.statusMenu(st.Ref)
		return
	}
	t.applyStatus(st.Ref, status)
}

func (t *turn) applyStatus(ref tasks.Ref, status tasks.Status) {
	if status == tasks.Completed {
		task, err := t.m.svc.Task(t.ctx, t.user, ref)
		if err != nil {
			t.fail(err, nil)
			return
		}
		t.s.state = AwaitingCompleteConfirmation{Ref: ref}
		t.confirmMenu("complete.ask", task.Title, ref)
		return
	}
	task, err := t.m.svc.SetStatus(t.ctx, t.user, ref, status)
	if err != nil {
		t.fail(err, func() { t.statusMenu(ref) })
		return
	}
	t.finish(t.m.msg.T("status.done", task.Title, t.m.statusLabel(task.Status)))
}

func (t *turn) confirm(a tasks.Action, yes bool) {
	var ref tasks.Ref
	var deleting bool
	switch st := t.s.state.(type) {
	case AwaitingDeleteConfirmation:
		ref, deleting = st.Ref, true
	case AwaitingCompleteConfirmation:
		ref = st.Ref
	default:
		t.say("error.stale")
		return
	}
	if !matches(ref, a) {
		t.say("error.stale")
		return
	}
	t.resolveConfirmation(ref, deleting, yes)
}

func (t *turn) resolveConfirmation(ref tasks.Ref, deleting, yes bool) {
	switch {
	case deleting && !yes:
		t.finish(t.m.msg.T("delete.declined"))
	case !deleting && !yes:
		t.finish(t.m.msg.T("complete.declined"))
	case deleting:
		task, err := t.m.svc.Task(t.ctx, t.user, ref)
		if err != nil {
			t.fail(err, nil)
			return
		}
		if err := t.m.svc.DeleteTask(t.ctx, t.user, ref); err != nil {
			t.fail(err, nil)
			return
		}
		t.finish(t.m.msg.T("delete.done", task.Title))
	default:
		task, err := t.m.svc.Complete(t.ctx, t.user, ref)
		if err != nil {
			t.fail(err, nil)
			return
		}
		t.finish(t.m.msg.T("complete.done", task.Title))
	}
}

// --- Free text ---

func (t *turn) text(text string) {
	switch st := t.s.state.(type) {
	case AwaitingTaskTitle:
		if strings.TrimSpace(text) == "" {
			t.say("error.title_empty")
			return
		}
		t.s.state = AwaitingTaskDescription{Title: text}
		t.say("add.ask_description")
	case AwaitingTaskDescription:
		t.addTask(st.Title, text)
	case AwaitingEditTitle:
		if _, err := t.m.svc.EditTitle(t.ctx, t.user, st.Ref, text); err != nil {
			t.fail(err, func() { t.say("error.title_empty") })
			return
		}
		t.finish(t.m.msg.T("edit.done"))
	case AwaitingEditDescription:
		t.editDescription(st.Ref, text)
	case AwaitingReminderTime:
		t.setReminder(st.Ref, text)
	case AwaitingStatusChoice:
		status, ok := t.statusFromText(text)
		if !ok {
			t.statusMenu(st.Ref)
			return
		}
		t.applyStatus(st.Ref, status)
	case AwaitingDeleteConfirmation:
		t.confirmText(st.Ref, true, text)
	case AwaitingCompleteConfirmation:
		t.confirmText(st.Ref, false, text)
	default:
		t.menu(notify.Menu{Text: t.m.msg.T("error.unknown"), Options: t.m.mainOptions()})
	}
}

func (t *turn) addTask(title, description string) {
	task, err := t.m.svc.AddTask(t.ctx, t.user, title, description)
	if err != nil {
		t.fail(err, func() { t.say("add.ask_description") })
		return
	}
	t.finish(t.m.msg.T("add.done", task.Title))
}

func (t *turn) editDescription(ref tasks.Ref, description string) {
	if _, err := t.m.svc.EditDescription(t.ctx, t.user, ref, description); err != nil {
		t.fail(err, func() { t.say("edit.ask_description") })
		return
	}
	t.finish(t.m.msg.T("edit.done"))
}

func (t *turn) setReminder(ref tasks.Ref, text string) {
	at, err := tasks.ParseReminderInput(text)
	if err != nil {
		t.say("remind.bad_format")
		return
	}
	task, err := t.m.svc.SetReminder(t.ctx, t.user, ref, at)
	if err != nil {
		t.fail(err, func() { t.say("remind.past") })
		return
	}
	t.finish(t.m.msg.T("remind.done", task.Title, tasks.FormatTime(at)))
}

func (t *turn) statusFromText(text string) (tasks.Status, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, st := range tasks.Statuses {
		if lower == st.Key() || lower == strings.ToLower(t.m.statusLabel(st)) {
			return st, true
		}
	}
	return 0, false
}

func (t *turn) confirmText(ref tasks.Ref, deleting bool, text string) {
	word := strings.ToLower(strings.TrimSpace(text))
	for _, w := range t.m.msg.Words("confirm.yes_words") {
		if word == w {
			t.resolveConfirmation(ref, deleting, true)
			return
		}
	}
	for _, w := range t.m.msg.Words("confirm.no_words") {
		if word == w {
			t.resolveConfirmation(ref, deleting, false)
			return
		}
	}
	t.say("confirm.hint")
}

// Package tui is the full-screen terminal transport: a chat panel, a
// reminders panel and a sidebar with the user's task counts.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/conversation"
	"taskbot/internal/i18n"
	"taskbot/internal/notify"
	"taskbot/internal/tasks"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PanelID 面板标识
// PanelID identifies a panel
type PanelID int

const (
	PanelChat PanelID = iota
	PanelReminders
	panelCount
)

// --- Tea Messages ---

// MessageMsg 会话回复
// MessageMsg is a plain reply from the conversation.
type MessageMsg struct{ Recipient, Text string }

// MenuMsg 带编号选项的菜单
// MenuMsg is a menu whose options are picked with #N.
type MenuMsg struct {
	Recipient string
	Menu      notify.Menu
}

// ReminderMsg 调度器送达的提醒
// ReminderMsg is a reminder delivered by the scheduler.
type ReminderMsg struct{ Recipient, Text string }

// TurnDoneMsg 一次输入处理完成
// TurnDoneMsg reports that one user input was handled.
type TurnDoneMsg struct{ Err error }

// CountsMsg 侧边栏任务数量
// CountsMsg carries the sidebar task counts.
type CountsMsg struct {
	Active    int
	Completed int
	Err       error
}

// Handler consumes user updates.
type Handler interface {
	Handle(ctx context.Context, u conversation.Update) error
}

// CountsFunc reports how many active and completed tasks the user has.
type CountsFunc func(ctx context.Context) (active, completed int, err error)

// Options configures NewApp.
type Options struct {
	UserID   string
	Handler  Handler
	Counts   CountsFunc
	Messages *i18n.I18n
	// AutoStart sends /start when the program starts.
	AutoStart bool
	Now       func() time.Time
}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 面板 / Panels
	activePanel   PanelID
	chatView      viewport.Model
	remindersView viewport.Model

	// 输入 / Input
	input textarea.Model

	// 侧边栏数据 / Sidebar data
	user      string
	active    int
	completed int

	// 内容缓冲 / Content buffers
	chat      string
	reminders reminderLog

	// 菜单编号 / Menu numbering
	options []tasks.Action
	fresh   bool

	// 状态 / State
	busy      bool
	statusKey string
	lastError string

	// 依赖 / Dependencies
	ctx       context.Context
	handler   Handler
	counts    CountsFunc
	autoStart bool
	now       func() time.Time

	// 配置 / Config
	theme  Theme
	keys   KeyMap
	locale *i18n.I18n
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(opts Options) App {
	locale := opts.Messages
	if locale == nil {
		locale = i18n.Global()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ta := textarea.New()
	ta.Placeholder = locale.T("input.placeholder")
	ta.CharLimit = 4096
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	return App{
		activePanel:   PanelChat,
		chatView:      viewport.New(80, 20),
		remindersView: viewport.New(80, 20),
		input:         ta,
		user:          opts.UserID,
		fresh:         true,
		statusKey:     "status.ready",
		ctx:           context.Background(),
		handler:       opts.Handler,
		counts:        opts.Counts,
		autoStart:     opts.AutoStart,
		now:           now,
		theme:         DarkTheme(),
		keys:          NewKeyMap(locale),
		locale:        locale,
	}
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, a.countsCmd()}
	if a.autoStart {
		cmds = append(cmds, a.handleCmd(conversation.Update{UserID: a.user, Text: "/start"}))
	}
	return tea.Batch(cmds...)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.SwitchPanel):
			a.activePanel = (a.activePanel + 1) % panelCount
			return a, nil
		case key.Matches(msg, a.keys.ClearScreen):
			a.chat = ""
			a.chatView.SetContent("")
			return a, nil
		case key.Matches(msg, a.keys.Scroll):
			var cmd tea.Cmd
			if a.activePanel == PanelReminders {
				a.remindersView, cmd = a.remindersView.Update(msg)
			} else {
				a.chatView, cmd = a.chatView.Update(msg)
			}
			return a, cmd
		case key.Matches(msg, a.keys.Submit):
			return a.submit()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case MessageMsg:
		a.appendChat(a.fromRecipient(msg.Recipient, msg.Text))
		return a, nil

	case MenuMsg:
		a.appendMenu(msg.Recipient, msg.Menu)
		return a, nil

	case ReminderMsg:
		a.reminders.add(a.now().Format("15:04"), a.fromRecipient(msg.Recipient, msg.Text))
		a.remindersView.SetContent(RenderMarkdown(a.reminders.markdown(), a.mainWidth()))
		a.appendChat(a.theme.ReminderStyle.Render(a.fromRecipient(msg.Recipient, msg.Text)))
		a.statusKey = "status.delivered"
		return a, nil

	case TurnDoneMsg:
		a.busy = false
		a.lastError = ""
		if msg.Err != nil {
			a.lastError = msg.Err.Error()
		}
		return a, a.countsCmd()

	case CountsMsg:
		if msg.Err == nil {
			a.active = msg.Active
			a.completed = msg.Completed
		}
		return a, nil
	}

	// 更新输入区 / Update input area
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.input.Value())
	a.input.Reset()
	if text == "" {
		return a, nil
	}
	if text == "/quit" || text == "/exit" {
		return a, tea.Quit
	}
	a.appendChat(a.theme.UserStyle.Render("👤 " + text))

	u := conversation.Update{UserID: a.user, Text: text}
	if n, ok := choiceNumber(text); ok {
		if n > len(a.options) {
			a.appendChat(a.theme.MutedStyle.Render(a.locale.T("ui.bad_choice", text)))
			return a, nil
		}
		action := a.options[n-1]
		u = conversation.Update{UserID: a.user, Action: &action}
	}
	a.fresh = true
	a.busy = true
	a.statusKey = "status.ready"
	return a, a.handleCmd(u)
}

func (a App) handleCmd(u conversation.Update) tea.Cmd {
	if a.handler == nil {
		return nil
	}
	h, ctx := a.handler, a.ctx
	return func() tea.Msg {
		return TurnDoneMsg{Err: h.Handle(ctx, u)}
	}
}

func (a App) countsCmd() tea.Cmd {
	if a.counts == nil {
		return nil
	}
	counts, ctx := a.counts, a.ctx
	return func() tea.Msg {
		active, completed, err := counts(ctx)
		return CountsMsg{Active: active, Completed: completed, Err: err}
	}
}

// choiceNumber recognises "#N".
func choiceNumber(text string) (int, bool) {
	if !strings.HasPrefix(text, "#") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(text[1:]))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.sidebarWidth()
	mainWidth := a.mainWidth()

	inputHeight := 4
	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - inputHeight - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs()
	panel := a.renderActivePanel(mainWidth, panelHeight)
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel, inputBox)
	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- 内部方法 / Internal methods ---

func (a App) sidebarWidth() int {
	if a.width < 80 {
		return 0
	}
	w := a.width * 25 / 100
	if w < 20 {
		w = 20
	}
	if w > 36 {
		w = 36
	}
	return w
}

func (a App) mainWidth() int {
	if a.width == 0 {
		return 80
	}
	sw := a.sidebarWidth()
	if sw == 0 {
		return a.width
	}
	return a.width - sw - 1
}

func (a *App) relayout() {
	mainWidth := a.mainWidth()
	panelHeight := a.height - 6
	if panelHeight < 3 {
		panelHeight = 3
	}

	a.chatView = viewport.New(mainWidth, panelHeight)
	a.chatView.SetContent(a.chat)
	a.chatView.GotoBottom()

	a.remindersView = viewport.New(mainWidth, panelHeight)
	a.remindersView.SetContent(RenderMarkdown(a.reminders.markdown(), mainWidth))

	a.input.SetWidth(mainWidth - 2)
}

func (a *App) appendChat(text string) {
	a.chat += text + "\n\n"
	a.chatView.SetContent(a.chat)
	a.chatView.GotoBottom()
}

func (a *App) appendMenu(recipient string, menu notify.Menu) {
	if recipient != a.user {
		a.appendChat(a.fromRecipient(recipient, menu.Text))
		return
	}
	if a.fresh {
		a.options = a.options[:0]
		a.fresh = false
	}
	lines := []string{menu.Text}
	for _, opt := range menu.Options {
		a.options = append(a.options, opt.Action)
		lines = append(lines, a.theme.OptionStyle.Render(optionLine(len(a.options), opt.Label, a.mainWidth())))
	}
	a.appendChat(strings.Join(lines, "\n"))
}

func (a App) fromRecipient(recipient, text string) string {
	if recipient == a.user {
		return text
	}
	return fmt.Sprintf("→ %s: %s", recipient, text)
}

// --- 渲染方法 / Render methods ---

func (a App) renderTabs() string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelChat, a.locale.T("panel.chat")},
		{PanelReminders, fmt.Sprintf("%s (%d)", a.locale.T("panel.reminders"), a.reminders.len())},
	}

	parts := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().Width(width).Height(height)

	var content string
	switch a.activePanel {
	case PanelChat:
		content = a.chatView.View()
	case PanelReminders:
		if a.reminders.len() == 0 {
			content = a.theme.MutedStyle.Render("  ·")
		} else {
			content = a.remindersView.View()
		}
	}
	return style.Render(content)
}

func (a App) renderSidebar(width, height int) string {
	parts := []string{
		a.theme.TitleStyle.Render(" " + a.locale.T("ui.title")),
		"",
		a.theme.TitleStyle.Render(" " + a.locale.T("sidebar.user")),
		"  " + a.user,
		"",
		a.theme.TitleStyle.Render(" " + a.locale.T("sidebar.active")),
		fmt.Sprintf("  %d", a.active),
		"",
		a.theme.TitleStyle.Render(" " + a.locale.T("sidebar.completed")),
		fmt.Sprintf("  %d", a.completed),
	}
	return a.theme.SidebarStyle.Width(width).Height(height).Render(strings.Join(parts, "\n"))
}

func (a App) renderStatusBar(width int) string {
	status := a.locale.T(a.statusKey)
	if a.lastError != "" {
		status = a.theme.ErrorStyle.Render(a.lastError)
	}
	if a.busy {
		status += " …"
	}

	left := fmt.Sprintf(" %s · %s", a.user, status)
	right := helpLine(a.keys.ShortHelp()) + "  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return a.theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run 启动 Bubble Tea TUI，返回时程序已退出
// Run starts the Bubble Tea TUI and blocks until it exits. Cancelling ctx
// stops the program.
func Run(ctx context.Context, opts Options, bridge *Bridge) error {
	app := NewApp(opts)
	app.ctx = ctx
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

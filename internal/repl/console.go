package repl

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"taskbot/internal/notify"
	"taskbot/internal/tasks"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Console is the chat transport for a local terminal. Menus are printed as
// numbered options; the user picks one by typing #N. Numbering restarts with
// the first menu that follows a user input, so several menus sent in one
// reply (one per task) share a single numbering.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	user  string
	width int
	style consoleStyle

	options []tasks.Action
	fresh   bool
}

type consoleStyle struct {
	text    func(string) string
	heading func(string) string
	number  func(string) string
	remote  func(string) string
	notice  func(string) string
}

func plainStyle() consoleStyle {
	same := func(s string) string { return s }
	return consoleStyle{text: same, heading: same, number: same, remote: same, notice: same}
}

func colorStyle() consoleStyle {
	return consoleStyle{
		text:    func(s string) string { return s },
		heading: render(lipgloss.NewStyle().Bold(true)),
		number:  render(lipgloss.NewStyle().Foreground(lipgloss.Color("6"))),
		remote:  render(lipgloss.NewStyle().Foreground(lipgloss.Color("3"))),
		notice:  render(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))),
	}
}

func render(st lipgloss.Style) func(string) string {
	return func(s string) string { return st.Render(s) }
}

// NewConsole writes to out on behalf of user. width bounds option labels;
// zero means unbounded.
func NewConsole(out io.Writer, user string, color bool, width int) *Console {
	st := plainStyle()
	if color {
		st = colorStyle()
	}
	return &Console{out: out, user: user, width: width, style: st, fresh: true}
}

// Notify prints text. Messages for other recipients are labelled.
func (c *Console) Notify(_ context.Context, recipientID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	if recipientID != c.user {
		b.WriteString(c.style.remote("→ " + recipientID + ":"))
		b.WriteByte(' ')
	}
	b.WriteString(c.style.text(text))
	b.WriteString("\n\n")
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return &tasks.DeliveryError{Recipient: recipientID, Err: err}
	}
	return nil
}

// PresentMenu prints the menu text followed by its numbered options.
func (c *Console) PresentMenu(_ context.Context, recipientID string, menu notify.Menu) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if recipientID != c.user {
		return nil
	}
	if c.fresh {
		c.options = c.options[:0]
		c.fresh = false
	}
	var b strings.Builder
	b.WriteString(c.style.heading(menu.Text))
	b.WriteByte('\n')
	for _, opt := range menu.Options {
		c.options = append(c.options, opt.Action)
		num := "#" + strconv.Itoa(len(c.options))
		b.WriteString("  ")
		b.WriteString(c.style.number(num))
		b.WriteByte(' ')
		b.WriteString(c.label(opt.Label, runewidth.StringWidth(num)+3))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return &tasks.DeliveryError{Recipient: recipientID, Err: err}
	}
	return nil
}

func (c *Console) label(s string, indent int) string {
	if c.width <= 0 {
		return s
	}
	room := c.width - indent
	if room < 8 {
		room = 8
	}
	return runewidth.Truncate(s, room, "…")
}

// Notice prints a local hint that is not part of the conversation.
func (c *Console) Notice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, c.style.notice(text))
}

// BeginTurn marks the start of a user input; the next menu restarts numbering.
func (c *Console) BeginTurn() {
	c.mu.Lock()
	c.fresh = true
	c.mu.Unlock()
}

// Choice returns the action behind option n of the current numbering.
func (c *Console) Choice(n int) (tasks.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.options) {
		return tasks.Action{}, false
	}
	return c.options[n-1], true
}

// parseChoice recognises "#N".
func parseChoice(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "#") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(text[1:]))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

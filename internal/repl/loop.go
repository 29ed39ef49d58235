// Package repl is the line-oriented console transport: one local user types
// messages, replies and reminders are printed above the prompt.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"taskbot/internal/conversation"
	"taskbot/internal/i18n"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Handler consumes user updates.
type Handler interface {
	Handle(ctx context.Context, u conversation.Update) error
}

// Options configures NewLoop.
type Options struct {
	UserID      string
	HistoryPath string
	Messages    *i18n.I18n
	Log         *logrus.Entry
	// AutoStart sends /start before the first prompt.
	AutoStart bool
}

// Loop holds REPL state: the line editor and the console transport.
// Loop 持有 REPL 状态：行编辑器与控制台传输。
type Loop struct {
	input     lineInput
	console   *Console
	user      string
	msg       *i18n.I18n
	log       *logrus.Entry
	autoStart bool
	prompt    string
}

// NewLoop opens the line editor on the process terminal. When readline is
// unavailable it logs the reason and falls back to buffered stdin.
func NewLoop(opts Options) (*Loop, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, errors.New("repl: user id is empty")
	}
	opts = withDefaults(opts)
	input, err := newLineInput(opts.HistoryPath)
	if err != nil {
		opts.Log.WithError(err).Warn("line editor unavailable, fallback to basic input")
	}

	fd := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(fd)
	width := 0
	if isTTY {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	console := NewConsole(input.Output(), opts.UserID, isTTY && useColor(), width)
	return newLoop(input, console, opts), nil
}

func newLoop(input lineInput, console *Console, opts Options) *Loop {
	opts = withDefaults(opts)
	return &Loop{
		input:     input,
		console:   console,
		user:      opts.UserID,
		msg:       opts.Messages,
		log:       opts.Log.WithField("component", "repl"),
		autoStart: opts.AutoStart,
		prompt:    "> ",
	}
}

func withDefaults(opts Options) Options {
	if opts.Messages == nil {
		opts.Messages = i18n.Global()
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Log = logrus.NewEntry(l)
	}
	return opts
}

// Transport is the notifier the conversation machine and scheduler write to.
func (l *Loop) Transport() *Console { return l.console }

// Close releases the terminal.
func (l *Loop) Close() error { return l.input.Close() }

// Run reads lines until EOF, /quit or ctx cancellation.
func (l *Loop) Run(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks a pending ReadLine.
			_ = l.input.Close()
		case <-stop:
		}
	}()

	l.console.Notice(l.msg.T("ui.welcome"))
	if l.autoStart {
		l.dispatch(ctx, h, "/start")
	}

	for {
		line, err := l.input.ReadLine(l.prompt)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				l.console.Notice(l.msg.T("ui.goodbye"))
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			l.console.Notice(l.msg.T("ui.goodbye"))
			return nil
		}
		l.dispatch(ctx, h, input)
	}
}

func (l *Loop) dispatch(ctx context.Context, h Handler, input string) {
	u := conversation.Update{UserID: l.user, Text: input}
	if n, ok := parseChoice(input); ok {
		action, ok := l.console.Choice(n)
		if !ok {
			l.console.Notice(l.msg.T("ui.bad_choice", input))
			return
		}
		u = conversation.Update{UserID: l.user, Action: &action}
	}
	l.console.BeginTurn()
	if err := h.Handle(ctx, u); err != nil {
		l.log.WithError(err).Warn("update not fully delivered")
	}
}

func useColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("TASKBOT_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}

package tui

import (
	"context"
	"sync"

	"taskbot/internal/notify"

	tea "github.com/charmbracelet/bubbletea"
)

// Bridge is the notify.Transport of the TUI. Deliveries become tea messages
// for the running program; anything sent before Attach is queued.
type Bridge struct {
	mu      sync.Mutex
	prog    *tea.Program
	pending []tea.Msg
}

func NewBridge() *Bridge { return &Bridge{} }

// Attach routes deliveries to p and flushes the queue. Call before p.Run.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.prog = p
	queued := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(queued) > 0 {
		// Send blocks until the event loop is running.
		go func() {
			for _, m := range queued {
				p.Send(m)
			}
		}()
	}
}

func (b *Bridge) send(m tea.Msg) {
	b.mu.Lock()
	p := b.prog
	if p == nil {
		b.pending = append(b.pending, m)
	}
	b.mu.Unlock()
	if p != nil {
		p.Send(m)
	}
}

func (b *Bridge) Notify(_ context.Context, recipientID, text string) error {
	b.send(MessageMsg{Recipient: recipientID, Text: text})
	return nil
}

func (b *Bridge) PresentMenu(_ context.Context, recipientID string, menu notify.Menu) error {
	b.send(MenuMsg{Recipient: recipientID, Menu: menu})
	return nil
}

// Reminders is the notifier for the scheduler; its messages also land in
// the reminders panel.
func (b *Bridge) Reminders() notify.Notifier {
	return notify.NotifierFunc(func(_ context.Context, recipientID, text string) error {
		b.send(ReminderMsg{Recipient: recipientID, Text: text})
		return nil
	})
}

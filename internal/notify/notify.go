// Package notify holds the outbound side of every chat transport: the
// Notifier/Presenter contracts, menus, and delivery adapters.
package notify

import (
	"context"

	"taskbot/internal/tasks"
)

// Notifier delivers a plain text message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID, text string) error
}

// Presenter renders a set of labeled choices to one recipient. A choice
// comes back as an inbound update carrying Option.Action.
type Presenter interface {
	PresentMenu(ctx context.Context, recipientID string, menu Menu) error
}

// Transport is everything the conversation layer needs from a chat surface.
type Transport interface {
	Notifier
	Presenter
}

// Menu is a prompt with choices.
type Menu struct {
	Text    string
	Options []Option
}

// Option is one labeled choice.
type Option struct {
	Label  string
	Action tasks.Action
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, recipientID, text string) error

func (f NotifierFunc) Notify(ctx context.Context, recipientID, text string) error {
	return f(ctx, recipientID, text)
}

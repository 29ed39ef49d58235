package notify

import (
	"context"
	"errors"
)

// Fanout delivers every message to all of its transports. It fails only if
// every transport failed.
type Fanout []Transport

func (f Fanout) Notify(ctx context.Context, recipientID, text string) error {
	return f.each(func(t Transport) error { return t.Notify(ctx, recipientID, text) })
}

func (f Fanout) PresentMenu(ctx context.Context, recipientID string, menu Menu) error {
	return f.each(func(t Transport) error { return t.PresentMenu(ctx, recipientID, menu) })
}

func (f Fanout) each(fn func(Transport) error) error {
	var errs []error
	for _, t := range f {
		if err := fn(t); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

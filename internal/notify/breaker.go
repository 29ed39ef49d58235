package notify

import (
	"context"
	"errors"
	"time"

	"taskbot/internal/tasks"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures NewBreaker. Zero values take defaults.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Breaker guards a downstream transport with a circuit breaker. While the
// circuit is open deliveries fail fast with *tasks.DeliveryError.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next.
func NewBreaker(next Transport, st BreakerSettings, log *logrus.Entry) *Breaker {
	if st.Name == "" {
		st.Name = "delivery-cb"
	}
	if st.MaxRequests == 0 {
		st.MaxRequests = 1
	}
	if st.Timeout <= 0 {
		st.Timeout = 5 * time.Second
	}
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 3
	}
	trip := st.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state changed")
			}
		},
		// A cancelled caller says nothing about downstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State reports the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Notify(ctx context.Context, recipientID, text string) error {
	return b.run(recipientID, func() error { return b.next.Notify(ctx, recipientID, text) })
}

func (b *Breaker) PresentMenu(ctx context.Context, recipientID string, menu Menu) error {
	return b.run(recipientID, func() error { return b.next.PresentMenu(ctx, recipientID, menu) })
}

func (b *Breaker) run(recipientID string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	var de *tasks.DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &tasks.DeliveryError{Recipient: recipientID, Err: err}
}

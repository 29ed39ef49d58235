package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskbot/internal/tasks"

	"github.com/sony/gobreaker"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	menus []Menu
	err   error
	calls int
}

func (r *recorder) Notify(_ context.Context, recipientID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, recipientID+":"+text)
	return nil
}

func (r *recorder) PresentMenu(_ context.Context, recipientID string, menu Menu) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.menus = append(r.menus, menu)
	return nil
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	down := &recorder{err: errors.New("connection refused")}
	b := NewBreaker(down, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Notify(ctx, "u1", "hi")
		var de *tasks.DeliveryError
		if !errors.As(err, &de) || de.Recipient != "u1" {
			t.Fatalf("attempt %d err=%v, want DeliveryError for u1", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state=%v, want open", b.State())
	}
	err := b.Notify(ctx, "u2", "hi")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err=%v, want ErrOpenState", err)
	}
	if down.calls != 2 {
		t.Fatalf("downstream calls=%d, want 2", down.calls)
	}
}

func TestBreaker_PassesThrough(t *testing.T) {
	down := &recorder{}
	b := NewBreaker(down, BreakerSettings{}, nil)
	if err := b.Notify(context.Background(), "u1", "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := b.PresentMenu(context.Background(), "u1", Menu{Text: "pick"}); err != nil {
		t.Fatalf("PresentMenu: %v", err)
	}
	if len(down.texts) != 1 || down.texts[0] != "u1:hello" || len(down.menus) != 1 {
		t.Fatalf("texts=%v menus=%v", down.texts, down.menus)
	}
}

func TestWebhook_PostsJSON(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []WebhookMessage
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg WebhookMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, msg)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, "s3cret", time.Second)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	ctx := context.Background()
	if err := wh.Notify(ctx, "u1", "⏰ Reminder: Buy milk"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	menu := Menu{Text: "Task", Options: []Option{{
		Label:  "Delete",
		Action: tasks.Action{Kind: tasks.ActionDelete, ListID: "l1", TaskID: "t1"},
	}}}
	if err := wh.PresentMenu(ctx, "u1", menu); err != nil {
		t.Fatalf("PresentMenu: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("received %d messages, want 2", len(got))
	}
	if got[0].Recipient != "u1" || got[0].Text != "⏰ Reminder: Buy milk" {
		t.Fatalf("first=%+v", got[0])
	}
	if got[1].Menu == nil || got[1].Menu.Options[0].Action != "delete:l1:t1" {
		t.Fatalf("second=%+v", got[1])
	}
	if auth != "Bearer s3cret" {
		t.Fatalf("Authorization=%q", auth)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, _ := NewWebhook(srv.URL, "", time.Second)
	err := wh.Notify(context.Background(), "u1", "x")
	var de *tasks.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err=%v, want DeliveryError", err)
	}
}

func TestFanout(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	ctx := context.Background()

	if err := (Fanout{ok, bad}).Notify(ctx, "u1", "x"); err != nil {
		t.Fatalf("partial failure err=%v, want nil", err)
	}
	if len(ok.texts) != 1 {
		t.Fatalf("healthy transport got %d messages, want 1", len(ok.texts))
	}
	if err := (Fanout{bad, bad}).Notify(ctx, "u1", "x"); err == nil {
		t.Fatalf("total failure should return an error")
	}
}

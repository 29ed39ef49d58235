package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskbot/internal/tasks"
)

// WebhookMessage is the JSON body posted for every outbound message.
type WebhookMessage struct {
	Recipient string       `json:"recipient"`
	Text      string       `json:"text,omitempty"`
	Menu      *WebhookMenu `json:"menu,omitempty"`
}

// WebhookMenu is the wire form of Menu. Actions travel as tokens.
type WebhookMenu struct {
	Text    string          `json:"text"`
	Options []WebhookOption `json:"options"`
}

type WebhookOption struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Webhook posts outbound messages to a URL.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a webhook transport. secret, if set, is sent as a
// bearer token.
func NewWebhook(url, secret string, timeout time.Duration) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		secret: strings.TrimSpace(secret),
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (w *Webhook) Notify(ctx context.Context, recipientID, text string) error {
	return w.post(ctx, WebhookMessage{Recipient: recipientID, Text: text})
}

func (w *Webhook) PresentMenu(ctx context.Context, recipientID string, menu Menu) error {
	return w.post(ctx, WebhookMessage{Recipient: recipientID, Menu: EncodeMenu(menu)})
}

// EncodeMenu converts a Menu to its wire form.
func EncodeMenu(menu Menu) *WebhookMenu {
	out := &WebhookMenu{Text: menu.Text, Options: make([]WebhookOption, 0, len(menu.Options))}
	for _, opt := range menu.Options {
		out.Options = append(out.Options, WebhookOption{Label: opt.Label, Action: opt.Action.Token()})
	}
	return out
}

func (w *Webhook) post(ctx context.Context, msg WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &tasks.DeliveryError{Recipient: msg.Recipient, Err: fmt.Errorf("encode: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &tasks.DeliveryError{Recipient: msg.Recipient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("Authorization", "Bearer "+w.secret)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return &tasks.DeliveryError{Recipient: msg.Recipient, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &tasks.DeliveryError{Recipient: msg.Recipient, Err: fmt.Errorf("webhook status %d", resp.StatusCode)}
	}
	return nil
}

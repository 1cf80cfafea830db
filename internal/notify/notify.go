// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package notify delivers best-effort events to the chat-side collaborator.
// Delivery failures never affect the outcome of the linking protocol.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier informs the chat side that a link completed.
type Notifier interface {
	NotifyLinked(ctx context.Context, chatID, gameID, permission string) error
}

// Noop discards all notifications. Used when no webhook is configured.
type Noop struct{}

// NotifyLinked does nothing.
func (Noop) NotifyLinked(context.Context, string, string, string) error { return nil }

// Webhook posts link events as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a notifier posting to url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type linkedEvent struct {
	Event      string `json:"event"`
	ChatID     string `json:"chat_id"`
	GameID     string `json:"game_id"`
	Permission string `json:"permission"`
}

// NotifyLinked posts the event. Any non-2xx response is an error; the caller
// decides whether to care.
func (w *Webhook) NotifyLinked(ctx context.Context, chatID, gameID, permission string) error {
	body, err := json.Marshal(linkedEvent{
		Event:      "account_linked",
		ChatID:     chatID,
		GameID:     gameID,
		Permission: permission,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

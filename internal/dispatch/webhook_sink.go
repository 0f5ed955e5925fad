package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/green-route/internal/models"
)

// WebhookSink posts selected events, by default only alerts, to an HTTP
// endpoint such as a driver notification service.
type WebhookSink struct {
	Endpoint string
	Token    string // sent as a bearer token when set
	Client   *http.Client
	events   map[string]struct{}
}

func NewWebhookSink(endpoint, token string, events ...string) *WebhookSink {
	if len(events) == 0 {
		events = []string{models.EventAlertNew}
	}
	set := make(map[string]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	return &WebhookSink{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}, events: set}
}

func (w *WebhookSink) Publish(ctx context.Context, topic, event string, payload any) error {
	if _, ok := w.events[event]; !ok {
		return nil
	}
	b, err := json.Marshal(newEnvelope(topic, event, payload))
	if err != nil {
		return fmt.Errorf("webhook sink: encode %s: %w", event, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("webhook sink: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}
	record("webhook", event, err)
	if err != nil {
		return fmt.Errorf("webhook sink: %w", err)
	}
	return nil
}

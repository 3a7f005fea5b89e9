// Package alerting implements the external alert channel (spec.md §6): a
// single outbound webhook call carrying a plain-text message, grounded on
// the teacher's notification.RapidMailSend JSON-POST-with-bearer-auth
// pattern, scoped down from email-campaign payloads to a single message
// field since the alert channel here is a generic incoming webhook.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookAlerter posts {"channel": id, "text": message} to webhookURL,
// bearer-authenticated with token. Satisfies both worker.Alerter
// (Send(ctx, string) error) and watcher.Alerter (Send(string) error).
type WebhookAlerter struct {
	webhookURL string
	channelID  string
	token      string
	client     *http.Client
}

// New creates a WebhookAlerter. A blank webhookURL makes Send a no-op,
// matching deployments that don't configure an alert channel.
func New(webhookURL, channelID, token string) *WebhookAlerter {
	return &WebhookAlerter{webhookURL: webhookURL, channelID: channelID, token: token, client: http.DefaultClient}
}

type payload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Send posts message to the configured webhook with a context, for
// worker.Alerter.
func (a *WebhookAlerter) Send(ctx context.Context, message string) error {
	if a.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload{Channel: a.channelID, Text: message})
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert channel returned status %d", resp.StatusCode)
	}
	return nil
}

// ContextFreeAdapter adapts a WebhookAlerter to watcher.Alerter's
// context-free Send(message string) error signature.
type ContextFreeAdapter struct {
	*WebhookAlerter
}

// Send backgrounds the call through a fresh context, for watcher.Alerter.
func (a ContextFreeAdapter) Send(message string) error {
	return a.WebhookAlerter.Send(context.Background(), message)
}

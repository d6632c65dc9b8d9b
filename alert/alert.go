// Package alert delivers operator notifications for refills that dwell in a
// non-terminal status beyond the configured threshold.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tos-network/refilld/log"
	"github.com/tos-network/refilld/params"
)

// Notifier is the sink the reconciliation monitor emits grouped alerts to.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Webhook posts alerts to a Slack-compatible incoming webhook. An empty URL
// yields a nil Webhook, which callers treat as "no sink configured".
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     log.Logger
}

// NewWebhook builds the webhook sink. It returns nil when url is empty so
// the caller's nil check disables alerting in one place.
func NewWebhook(url string, timeout time.Duration, logger log.Logger) *Webhook {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = params.DefaultAlertTimeout
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     logger.New("sink", "webhook"),
	}
}

// Notify posts one message. The subject becomes the first line so channel
// previews carry the gist.
func (w *Webhook) Notify(ctx context.Context, subject, body string) error {
	text := subject
	if body != "" {
		text += "\n" + body
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("alert: encoding webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alert: building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert: webhook answered status %d", resp.StatusCode)
	}
	w.log.Debug("Alert delivered", "subject", subject)
	return nil
}

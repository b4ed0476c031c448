package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookSink POSTs each notification as a JSON Message to a URL.
type WebhookSink struct {
	url    string
	device string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSink creates a sink posting to url. A non-positive timeout selects
// DefaultWebhookTimeout.
func NewWebhookSink(url, device string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookSink{
		url:    url,
		device: device,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (s *WebhookSink) PostStatus(ctx context.Context, text string) error {
	return s.post(ctx, KindStatus, text)
}

func (s *WebhookSink) PostAlert(ctx context.Context, text string) error {
	return s.post(ctx, KindAlert, text)
}

func (s *WebhookSink) post(ctx context.Context, kind, text string) error {
	body, err := json.Marshal(Message{Kind: kind, Text: text, Time: s.now(), Device: s.device})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

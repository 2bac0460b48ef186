package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/loadgate/internal/logger"
)

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// WebhookSink POSTs each event as JSON to an HTTP endpoint. It blocks for the
// duration of the request, so wrap it in an AsyncSink on hot paths.
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink creates a WebhookSink.
// Parameters:
//   - cfg: endpoint, optional bearer token and request timeout (default 10s).
// Returns:
//   - *WebhookSink: configured sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	client.SetTimeout(timeout)

	return &WebhookSink{client: client, url: cfg.URL}
}

// Post delivers e and reports the delivery error.
func (s *WebhookSink) Post(ctx context.Context, e Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(e).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("audit webhook: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("audit webhook: HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

// Emit delivers e, logging delivery failures instead of returning them.
func (s *WebhookSink) Emit(ctx context.Context, e Event) {
	if err := s.Post(ctx, e); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("audit_id", e.ID).Warn("Audit event delivery failed")
	}
}

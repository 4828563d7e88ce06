package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// Webhook POSTs the card as JSON to a chat webhook URL. An empty URL turns
// Send into a logged no-op.
type Webhook struct {
	url        string
	client     *resty.Client
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a transport error or 5xx is
// retried. Default: 0.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookTimeout sets the per-request timeout. Default: 10s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.timeout = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}

	w.client = resty.New().
		SetTimeout(w.timeout).
		SetHeader("Content-Type", "application/json; charset=UTF-8")
	if w.maxRetries > 0 {
		w.client.
			SetRetryCount(w.maxRetries).
			SetRetryWaitTime(time.Second).
			SetRetryMaxWaitTime(4 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			})
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, msg report.Message) error {
	if w.url == "" {
		w.logger.Warn("webhook: no URL configured, skipping notification")
		return nil
	}

	w.logger.Info("webhook: posting summary")
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook: status %d", resp.StatusCode())
	}
	w.logger.Info("webhook: summary delivered", "status", resp.StatusCode())
	return nil
}

func (w *Webhook) Close() error { return nil }

package tracker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/notify"
	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// Sink is a summary destination.
type Sink = notify.Sink

// Message is the chat card sent to sinks.
type Message = report.Message

// NewStdoutSink creates a sink printing cards as JSON.
func NewStdoutSink(w io.Writer) Sink {
	return notify.NewStdout(w)
}

// NewWebhookSink creates a chat webhook sink. retries is 0 for the single
// attempt the portal summary normally gets.
func NewWebhookSink(url string, timeout time.Duration, retries int, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return notify.NewWebhook(url,
		notify.WithWebhookTimeout(timeout),
		notify.WithWebhookRetries(retries),
		notify.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, msg Message) error) Sink {
	return notify.NewCallback(fn)
}

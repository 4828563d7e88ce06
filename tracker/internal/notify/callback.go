package notify

import (
	"context"

	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// MessageFunc receives a card in-process.
type MessageFunc func(ctx context.Context, msg report.Message) error

// Callback delivers cards via a Go function call.
type Callback struct {
	fn MessageFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn MessageFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, msg report.Message) error {
	if c.fn != nil {
		return c.fn(ctx, msg)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

// Package notify delivers the daily summary card to its destinations.
package notify

import (
	"context"

	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// Sink is a summary destination (chat webhook, stdout, in-process callback).
type Sink interface {
	Send(ctx context.Context, msg report.Message) error
	Close() error
}

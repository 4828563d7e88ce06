package acquire

import (
	"context"
	"sync"
)

// Outcome is the result of waiting on the API channel.
type Outcome int

const (
	// TimedOut means no matching response arrived within the wait.
	TimedOut Outcome = iota
	// Captured means a payload was captured and normalized to rows.
	Captured
	// Empty means the captured payload had an empty Rows list.
	Empty
	// Malformed means the captured payload could not be normalized.
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case TimedOut:
		return "timed_out"
	case Captured:
		return "captured"
	case Empty:
		return "empty"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// capture is a one-shot future for the intercepted payload. The first
// offer wins; later offers are dropped.
type capture struct {
	once    sync.Once
	done    chan struct{}
	payload []byte
}

func newCapture() *capture {
	return &capture{done: make(chan struct{})}
}

// offer stores payload if nothing was captured yet and reports whether it
// was taken.
func (c *capture) offer(payload []byte) bool {
	taken := false
	c.once.Do(func() {
		c.payload = payload
		taken = true
		close(c.done)
	})
	return taken
}

// settled reports whether a payload has been captured.
func (c *capture) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks until a payload is captured or ctx ends.
func (c *capture) wait(ctx context.Context) ([]byte, bool) {
	select {
	case <-c.done:
		return c.payload, true
	case <-ctx.Done():
		if c.settled() {
			return c.payload, true
		}
		return nil, false
	}
}

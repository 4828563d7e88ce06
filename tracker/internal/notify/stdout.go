package notify

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/sitevisits/tracker/internal/report"
)

// Stdout writes each card as indented JSON to an io.Writer (default
// os.Stdout). Used for dry runs.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &Stdout{enc: enc}
}

func (s *Stdout) Send(_ context.Context, msg report.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(msg)
}

func (s *Stdout) Close() error { return nil }

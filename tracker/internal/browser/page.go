package browser

import (
	"context"
	"errors"
)

// ErrNoElement is returned when a selector matches nothing usable.
var ErrNoElement = errors.New("browser: no matching element")

// Response is a network response observed on a page. Body is loaded lazily
// because fetching it costs a CDP round-trip.
type Response struct {
	URL    string
	Status int
	Body   func() ([]byte, error)
}

// Page is the browser capability the tracker drives. Every blocking method is
// bounded by the context it receives.
type Page interface {
	// URL returns the current document URL, or "" if it cannot be read.
	URL() string

	Navigate(ctx context.Context, url string) error
	// WaitIdle waits until the network has been quiet for a short window.
	WaitIdle(ctx context.Context) error
	Reload(ctx context.Context) error

	// Visible reports whether selector matches an element that is rendered
	// right now. It does not wait for the element to appear.
	Visible(ctx context.Context, selector string) (bool, error)
	// ButtonLabeled reports whether any button label contains one of words.
	ButtonLabeled(ctx context.Context, words []string) (bool, error)
	// WaitVisible blocks until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string) error

	Fill(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	// ClickAndWait clicks selector and waits for the resulting navigation
	// to settle.
	ClickAndWait(ctx context.Context, selector string) error

	// FirstHTML returns the outer HTML of the first element matching
	// selector, skipping hidden ones when visibleOnly is set.
	FirstHTML(ctx context.Context, selector string, visibleOnly bool) (string, error)

	// OnResponse registers fn for every completed network response until
	// stop is called. fn is called for one response at a time, in arrival
	// order. stop is idempotent.
	OnResponse(ctx context.Context, fn func(Response)) (stop func())

	// ExportState serialises cookies and local storage into an opaque blob.
	ExportState(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Browser opens pages. state is an optional blob previously returned by
// Page.ExportState; a blob that cannot be applied is ignored.
type Browser interface {
	OpenPage(ctx context.Context, state []byte) (Page, error)
	Close() error
}

// Package browsertest provides a scriptable in-memory browser for tests of
// the login and acquisition flows.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/browser"
)

const pollInterval = 2 * time.Millisecond

// Page is a fake browser.Page. The zero value is not usable; call NewPage.
//
// Hooks run without the page lock held, so they may call any Page method.
type Page struct {
	mu        sync.Mutex
	url       string
	visible   map[string]bool
	html      map[string]string
	buttons   []string
	fills     map[string]string
	clicks    []string
	shots     []string
	listeners map[int]func(browser.Response)
	nextID    int
	closed    bool

	// ProbeErr, when set, is returned by Visible and ButtonLabeled.
	ProbeErr error
	// NavigateErr, when set, is returned by Navigate after the page has
	// moved and OnNavigate has run, like a load that never finished.
	NavigateErr error
	// State is returned by ExportState.
	State []byte

	OnNavigate func(p *Page, url string)
	OnClick    func(p *Page, selector string)
	OnReload   func(p *Page)
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a page parked on url.
func NewPage(url string) *Page {
	return &Page{
		url:       url,
		visible:   make(map[string]bool),
		html:      make(map[string]string),
		fills:     make(map[string]string),
		listeners: make(map[int]func(browser.Response)),
	}
}

// SetURL moves the page to url without firing hooks.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Show marks selectors as rendered.
func (p *Page) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.visible[s] = true
	}
}

// Hide marks selectors as absent.
func (p *Page) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.visible, s)
	}
}

// HideAll removes every rendered selector.
func (p *Page) HideAll() {
	p.mu.Lock()
	p.visible = make(map[string]bool)
	p.mu.Unlock()
}

// SetHTML sets the markup returned by FirstHTML for selector.
func (p *Page) SetHTML(selector, html string) {
	p.mu.Lock()
	p.html[selector] = html
	p.mu.Unlock()
}

// SetButtons sets the button labels seen by ButtonLabeled.
func (p *Page) SetButtons(labels ...string) {
	p.mu.Lock()
	p.buttons = labels
	p.mu.Unlock()
}

// Respond delivers a response to every registered listener.
func (p *Page) Respond(url string, status int, body string) {
	p.mu.Lock()
	fns := make([]func(browser.Response), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(browser.Response{
			URL:    url,
			Status: status,
			Body:   func() ([]byte, error) { return []byte(body), nil },
		})
	}
}

// Filled returns what was typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

// Clicks returns the clicked selectors in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Screenshots returns the paths passed to Screenshot.
func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.shots...)
}

// Listeners returns the number of registered response listeners.
func (p *Page) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.SetURL(url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return p.NavigateErr
}

func (p *Page) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	if p.ProbeErr != nil {
		return false, p.ProbeErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], nil
}

func (p *Page) ButtonLabeled(ctx context.Context, words []string) (bool, error) {
	if p.ProbeErr != nil {
		return false, p.ProbeErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, label := range p.buttons {
		l := strings.ToLower(label)
		for _, w := range words {
			if strings.Contains(l, w) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		p.mu.Lock()
		ok := p.visible[selector]
		p.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("browsertest: wait visible %s: %w", selector, ctx.Err())
		case <-t.C:
		}
	}
}

func (p *Page) Fill(ctx context.Context, selector, text string) error {
	if err := p.WaitVisible(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.fills[selector] = text
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.WaitVisible(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()
	if p.OnClick != nil {
		p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) ClickAndWait(ctx context.Context, selector string) error {
	return p.Click(ctx, selector)
}

func (p *Page) FirstHTML(ctx context.Context, selector string, visibleOnly bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.html[selector]
	if !ok {
		return "", browser.ErrNoElement
	}
	return h, nil
}

func (p *Page) OnResponse(ctx context.Context, fn func(browser.Response)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Page) ExportState(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State == nil {
		return []byte(`{"cookies":[]}`), nil
	}
	return append([]byte(nil), p.State...), nil
}

// Screenshot writes a placeholder image so callers can assert on the file.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	p.shots = append(p.shots, path)
	p.mu.Unlock()
	return os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644)
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Browser is a fake browser.Browser that always hands out the same Page.
type Browser struct {
	Page *Page
	// OpenErr, when set, fails OpenPage.
	OpenErr error

	mu     sync.Mutex
	states [][]byte
	closed bool
}

var _ browser.Browser = (*Browser)(nil)

// NewBrowser wraps page.
func NewBrowser(page *Page) *Browser {
	return &Browser{Page: page}
}

func (b *Browser) OpenPage(ctx context.Context, state []byte) (browser.Page, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.mu.Lock()
	b.states = append(b.states, state)
	b.mu.Unlock()
	return b.Page, nil
}

// States returns the session blobs passed to OpenPage.
func (b *Browser) States() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// idleWindow is how long the network must stay quiet for WaitIdle.
const idleWindow = 500 * time.Millisecond

// Tab wraps a Rod page and implements Page.
type Tab struct {
	page   *rod.Page
	logger *slog.Logger
}

var _ Page = (*Tab)(nil)

// openTab creates a new tab with stealth and resource blocking applied and
// local storage from st seeded on every new document.
func openTab(b *rod.Browser, cfg Config, st *state) (*Tab, error) {
	var page *rod.Page
	var err error

	if cfg.DisableStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, cfg.ResourceBlocking); err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	if st != nil {
		for _, o := range st.Origins {
			js, err := o.restoreScript()
			if err != nil {
				cfg.Logger.Warn("browser: skip local storage", "origin", o.Origin, "error", err)
				continue
			}
			if _, err := page.EvalOnNewDocument(js); err != nil {
				cfg.Logger.Warn("browser: seed local storage failed", "origin", o.Origin, "error", err)
			}
		}
	}

	return &Tab{page: page, logger: cfg.Logger}, nil
}

func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	return nil
}

func (t *Tab) WaitIdle(ctx context.Context) error {
	wait := t.page.Context(ctx).WaitRequestIdle(idleWindow, nil, nil, nil)
	wait()
	return ctx.Err()
}

func (t *Tab) Reload(ctx context.Context) error {
	p := t.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load after reload: %w", err)
	}
	return nil
}

func (t *Tab) Visible(ctx context.Context, selector string) (bool, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil || !has {
		return false, err
	}
	return el.Visible()
}

const buttonLabelJS = `(words) => {
	const nodes = document.querySelectorAll('button, [role="button"], input[type="submit"]');
	for (const b of nodes) {
		const label = (b.innerText || b.value || b.getAttribute('aria-label') || '').toLowerCase();
		if (words.some(w => label.includes(w))) return true;
	}
	return false;
}`

func (t *Tab) ButtonLabeled(ctx context.Context, words []string) (bool, error) {
	res, err := t.page.Context(ctx).Eval(buttonLabelJS, words)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (t *Tab) WaitVisible(ctx context.Context, selector string) error {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("browser: wait visible %s: %w", selector, err)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, selector, text string) error {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		t.logger.Debug("browser: select text before fill", "selector", selector, "error", err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: fill %s: %w", selector, err)
	}
	return nil
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

func (t *Tab) ClickAndWait(ctx context.Context, selector string) error {
	p := t.page.Context(ctx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := t.Click(ctx, selector); err != nil {
		return err
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("browser: wait navigation after %s: %w", selector, err)
	}
	return nil
}

func (t *Tab) FirstHTML(ctx context.Context, selector string, visibleOnly bool) (string, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		return "", fmt.Errorf("browser: query %s: %w", selector, err)
	}
	for _, el := range els {
		if visibleOnly {
			if ok, err := el.Visible(); err != nil || !ok {
				continue
			}
		}
		return el.HTML()
	}
	return "", ErrNoElement
}

func (t *Tab) OnResponse(ctx context.Context, fn func(Response)) func() {
	ctx, cancel := context.WithCancel(ctx)
	p := t.page.Context(ctx)

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		t.logger.Warn("browser: enable network domain", "error", err)
	}

	// Bodies are only readable once loading finished, so responses are
	// parked until then. Handlers run on one goroutine and fn is called
	// inline, so responses reach it in the order they finished loading.
	pending := make(map[proto.NetworkRequestID]*proto.NetworkResponse)
	wait := p.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			pending[e.RequestID] = e.Response
		},
		func(e *proto.NetworkLoadingFinished) {
			res, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			id := e.RequestID
			fn(Response{
				URL:    res.URL,
				Status: res.Status,
				Body:   func() ([]byte, error) { return responseBody(p, id) },
			})
		},
		func(e *proto.NetworkLoadingFailed) {
			delete(pending, e.RequestID)
		},
	)

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func responseBody(p *rod.Page, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("browser: response body: %w", err)
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

const localStorageJS = `() => {
	const items = {};
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			items[k] = localStorage.getItem(k);
		}
	} catch (e) {}
	return JSON.stringify({origin: location.origin, localStorage: items});
}`

func (t *Tab) ExportState(ctx context.Context) ([]byte, error) {
	p := t.page.Context(ctx)

	cookies, err := p.Browser().GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	st := state{Cookies: cookies}

	res, err := p.Eval(localStorageJS)
	if err != nil {
		t.logger.Warn("browser: read local storage", "error", err)
	} else {
		var o originStorage
		if err := json.Unmarshal([]byte(res.Value.Str()), &o); err == nil && o.Origin != "" && o.Origin != "null" {
			st.Origins = append(st.Origins, o)
		}
	}

	return json.Marshal(st)
}

func (t *Tab) Screenshot(ctx context.Context, path string) error {
	data, err := t.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("browser: screenshot dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Close closes the tab.
func (t *Tab) Close() error {
	return t.page.Close()
}

// Package acquire loads the site visits report and extracts its rows,
// preferring the grid's own API response and falling back to the rendered
// table.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/browser"
	"github.com/hazyhaar/sitevisits/tracker/internal/login"
	"github.com/hazyhaar/sitevisits/tracker/internal/normalize"
)

var (
	// ErrSessionExpired is returned when the report page lands on a login
	// screen. It wraps login.ErrAuthentication.
	ErrSessionExpired = fmt.Errorf("acquire: session expired: %w", login.ErrAuthentication)

	// ErrAcquisition is returned when neither channel yields rows.
	ErrAcquisition = errors.New("acquire: no data via API or HTML")
)

// Portal paths and grid selectors.
const (
	DefaultAPIFragment = "/TMCWebPortal/Site/ListVisits"

	HeaderTable = "div.ui-jqgrid-hdiv table.ui-jqgrid-htable"
	BodyTable   = "table.ui-jqgrid-btable"
	DataRow     = "table.ui-jqgrid-btable tbody tr:not(.jqgfirstrow)"
)

// Channel names the path that produced a Result.
type Channel string

const (
	ChannelAPI Channel = "api"
	ChannelDOM Channel = "dom"
)

// Result is a successful acquisition.
type Result struct {
	Channel Channel
	Table   *normalize.Table
	// Raw is the intercepted payload; nil for the DOM channel.
	Raw json.RawMessage
}

// ReportURL returns the visits report URL for site under base.
func ReportURL(base, site string) string {
	return strings.TrimRight(base, "/") + "/TMCWebPortal/Site/Visits/" +
		url.PathEscape(site) + "?siteIdEncoded=False"
}

// Config configures an Orchestrator.
type Config struct {
	BaseURL string
	SiteID  string
	// APIFragment is matched against response URLs. Default: DefaultAPIFragment.
	APIFragment string

	Detector *login.Detector

	// Timeout bounds navigation. Default: 60s.
	Timeout time.Duration
	// IdleTimeout bounds the network-idle wait after navigation. Default: 15s.
	IdleTimeout time.Duration
	// ReloadTimeout bounds the reload. Default: 30s.
	ReloadTimeout time.Duration
	// APIWait bounds the wait for the intercepted response. Default: 25s.
	APIWait time.Duration
	// DOMWait bounds the wait for the first data row. Default: 20s.
	DOMWait time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.APIFragment == "" {
		c.APIFragment = DefaultAPIFragment
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Second
	}
	if c.ReloadTimeout <= 0 {
		c.ReloadTimeout = 30 * time.Second
	}
	if c.APIWait <= 0 {
		c.APIWait = 25 * time.Second
	}
	if c.DOMWait <= 0 {
		c.DOMWait = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Detector == nil {
		c.Detector = login.NewDetector(login.DetectorConfig{Logger: c.Logger})
	}
}

// Orchestrator runs one acquisition against a page.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// New returns an Orchestrator.
func New(cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

// TargetURL is the report page this orchestrator loads.
func (o *Orchestrator) TargetURL() string {
	return ReportURL(o.cfg.BaseURL, o.cfg.SiteID)
}

// Acquire loads the report and returns its rows. It fails with
// ErrSessionExpired if the page turns out to need a login, and with
// ErrAcquisition if neither channel produced rows.
func (o *Orchestrator) Acquire(ctx context.Context, page browser.Page) (*Result, error) {
	target := o.TargetURL()
	o.log.Info("acquire: opening report", "url", target)

	navCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	err := page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: open report: %v", ErrAcquisition, err)
	}

	idleCtx, cancel := context.WithTimeout(ctx, o.cfg.IdleTimeout)
	if err := page.WaitIdle(idleCtx); err != nil {
		o.log.Warn("acquire: network idle timeout, continuing", "error", err)
	}
	cancel()

	if o.cfg.Detector.LoginRequired(ctx, page) {
		o.log.Error("acquire: report redirected to login", "url", page.URL())
		return nil, ErrSessionExpired
	}

	outcome, tbl, raw := o.viaAPI(ctx, page)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	o.log.Info("acquire: api channel finished", "outcome", outcome)
	if outcome == Captured {
		return &Result{Channel: ChannelAPI, Table: tbl, Raw: raw}, nil
	}

	o.log.Info("acquire: falling back to html table")
	tbl, err = o.viaDOM(ctx, page)
	if err != nil {
		return nil, err
	}
	return &Result{Channel: ChannelDOM, Table: tbl}, nil
}

// viaAPI listens for the grid's data request, reloads the page to make the
// grid issue it, and waits for the first usable response.
func (o *Orchestrator) viaAPI(ctx context.Context, page browser.Page) (Outcome, *normalize.Table, json.RawMessage) {
	c := newCapture()
	stop := page.OnResponse(ctx, func(r browser.Response) {
		if c.settled() || !o.matches(r) {
			return
		}
		body, err := r.Body()
		if err != nil {
			o.log.Debug("acquire: read api body failed", "url", r.URL, "error", err)
			return
		}
		if _, ok := normalize.RowsField(body); !ok {
			o.log.Debug("acquire: api body is not an object with Rows", "url", r.URL)
			return
		}
		if c.offer(body) {
			o.log.Info("acquire: captured api response", "url", r.URL, "bytes", len(body))
		}
	})
	defer stop()

	reloadCtx, cancel := context.WithTimeout(ctx, o.cfg.ReloadTimeout)
	if err := page.Reload(reloadCtx); err != nil {
		o.log.Warn("acquire: reload failed, still waiting for api", "error", err)
	}
	cancel()

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.APIWait)
	payload, ok := c.wait(waitCtx)
	cancel()
	stop()

	if !ok {
		return TimedOut, nil, nil
	}

	tbl, err := normalize.FromRows(payload)
	if err != nil {
		o.log.Warn("acquire: api payload unusable", "error", err)
		return Malformed, nil, nil
	}
	if tbl.Empty() {
		return Empty, nil, nil
	}
	o.log.Info("acquire: rows from api", "rows", tbl.Len(), "columns", len(tbl.Columns))
	return Captured, tbl, json.RawMessage(payload)
}

func (o *Orchestrator) matches(r browser.Response) bool {
	return r.Status >= 200 && r.Status < 300 && strings.Contains(r.URL, o.cfg.APIFragment)
}

// viaDOM waits for the grid to render and parses its markup.
func (o *Orchestrator) viaDOM(ctx context.Context, page browser.Page) (*normalize.Table, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.DOMWait)
	err := page.WaitVisible(waitCtx, DataRow)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for table rows: %v", ErrAcquisition, err)
	}

	header, err := page.FirstHTML(ctx, HeaderTable, false)
	if err != nil {
		o.log.Warn("acquire: header table not found, columns will be positional", "error", err)
		header = ""
	}
	body, err := page.FirstHTML(ctx, BodyTable, true)
	if err != nil {
		return nil, fmt.Errorf("%w: body table: %v", ErrAcquisition, err)
	}

	tbl, err := normalize.FromMarkup(header, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}
	if tbl.Synthetic {
		o.log.Warn("acquire: header does not match body, using positional column names",
			"columns", len(tbl.Columns))
	}
	if tbl.Empty() {
		return nil, fmt.Errorf("%w: table rendered without rows", ErrAcquisition)
	}
	o.log.Info("acquire: rows from html", "rows", tbl.Len(), "columns", len(tbl.Columns))
	return tbl, nil
}

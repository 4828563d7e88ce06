// Package tracker scrapes the Microlise TMC Site Visits report for one store,
// writes it to CSV, and posts today's delivery plan to a chat webhook.
//
// A run reuses the saved browser session when it is still valid and signs
// in otherwise. Rows come from the report grid's own API response when it
// can be intercepted, and from the rendered table when it cannot.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/sitevisits/tracker/internal/acquire"
	"github.com/hazyhaar/sitevisits/tracker/internal/browser"
	"github.com/hazyhaar/sitevisits/tracker/internal/config"
	"github.com/hazyhaar/sitevisits/tracker/internal/login"
	"github.com/hazyhaar/sitevisits/tracker/internal/notify"
	"github.com/hazyhaar/sitevisits/tracker/internal/report"
	"github.com/hazyhaar/sitevisits/tracker/internal/session"
)

// Browser opens pages for a run.
type Browser = browser.Browser

// SessionStore persists the authenticated session.
type SessionStore = session.Store

// Option customises a Tracker.
type Option func(*Tracker)

// WithBrowser uses b instead of launching Chrome. The tracker still closes
// it at the end of each run.
func WithBrowser(b Browser) Option {
	return func(t *Tracker) { t.browser = b }
}

// WithSessionStore uses s instead of the store described by the config.
func WithSessionStore(s SessionStore) Option {
	return func(t *Tracker) { t.store = s }
}

// WithSinks replaces the sinks built from the config.
func WithSinks(sinks ...Sink) Option {
	return func(t *Tracker) { t.sinks = sinks }
}

// WithClock sets the time source used for the date filter and the card.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker runs the scrape for one site.
type Tracker struct {
	cfg     *config.Config
	logger  *slog.Logger
	runID   string
	browser browser.Browser
	store   session.Store
	sinks   []notify.Sink
	now     func() time.Time
}

// Result describes a successful run.
type Result struct {
	RunID    string
	LoggedIn bool
	Channel  string
	Table    *Table
	Summary  Summary
	CSVPath  string
	// RawPath is where the API payload was written, "" if it was not.
	RawPath string
	// Notified is false when a sink failed; the run still succeeded.
	Notified bool
}

// New validates cfg and returns a Tracker.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Tracker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	t := &Tracker{
		cfg:    cfg,
		runID:  id.String(),
		logger: logger.With("run_id", id.String(), "site_id", cfg.SiteID),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.sinks == nil {
		t.sinks = t.defaultSinks()
	}
	return t, nil
}

// RunID identifies this tracker's runs in logs.
func (t *Tracker) RunID() string { return t.runID }

func (t *Tracker) defaultSinks() []notify.Sink {
	sinks := []notify.Sink{notify.NewWebhook(t.cfg.Notify.WebhookURL,
		notify.WithWebhookTimeout(t.cfg.Timeouts.Webhook),
		notify.WithWebhookRetries(t.cfg.Notify.Retries),
		notify.WithWebhookLogger(t.logger))}
	if t.cfg.Notify.Stdout {
		sinks = append(sinks, notify.NewStdout(nil))
	}
	return sinks
}

// Run signs in if needed, acquires the report, writes the CSV (and raw
// payload), and sends today's summary. Authentication and acquisition
// failures are returned after a screenshot is saved; notification failures
// are only logged.
func (t *Tracker) Run(ctx context.Context) (*Result, error) {
	t.logger.Info("tracker: run starting")
	start := time.Now()

	res := &Result{RunID: t.runID}
	err := t.withPage(ctx, func(page browser.Page, store session.Store) error {
		loggedIn, err := t.sequencer(store).Ensure(ctx, page, t.orchestrator().TargetURL())
		res.LoggedIn = loggedIn
		if err != nil {
			return err
		}

		acq, err := t.orchestrator().Acquire(ctx, page)
		if err != nil {
			return err
		}
		res.Channel = string(acq.Channel)
		res.Table = acq.Table

		if err := report.WriteCSV(t.cfg.Output.CSV, acq.Table); err != nil {
			return fmt.Errorf("tracker: %w", err)
		}
		res.CSVPath = t.cfg.Output.CSV
		t.logger.Info("tracker: wrote csv", "path", res.CSVPath, "rows", acq.Table.Len())

		if acq.Raw != nil && t.cfg.Output.JSON != "" {
			if err := report.WriteRaw(t.cfg.Output.JSON, acq.Raw); err != nil {
				t.logger.Warn("tracker: write raw payload failed", "path", t.cfg.Output.JSON, "error", err)
			} else {
				res.RawPath = t.cfg.Output.JSON
			}
		}
		return nil
	})
	if err != nil {
		t.logger.Error("tracker: run failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	now := t.now()
	res.Summary = report.Build(res.Table, now, report.DefaultColumns(), t.logger)
	res.Notified = t.dispatch(ctx, report.NewMessage(t.cfg.SiteID, res.Summary, now))

	t.logger.Info("tracker: run complete",
		"channel", res.Channel, "rows", res.Table.Len(), "today", len(res.Summary.Lines),
		"logged_in", res.LoggedIn, "elapsed", time.Since(start))
	return res, nil
}

// Login only makes sure the saved session is authenticated. It reports
// whether a login was performed.
func (t *Tracker) Login(ctx context.Context) (bool, error) {
	var loggedIn bool
	err := t.withPage(ctx, func(page browser.Page, store session.Store) error {
		var err error
		loggedIn, err = t.sequencer(store).Ensure(ctx, page, t.orchestrator().TargetURL())
		return err
	})
	return loggedIn, err
}

// withPage opens the session store, the browser and one page with the saved
// session applied, runs fn, and releases everything. A failing fn gets a
// screenshot of the page.
func (t *Tracker) withPage(ctx context.Context, fn func(browser.Page, session.Store) error) error {
	store := t.store
	if store == nil {
		s, err := session.Open(session.Options{
			Backend:    t.cfg.Session.Backend,
			Path:       t.cfg.Session.Path,
			Key:        t.cfg.SiteID,
			Passphrase: t.cfg.Session.Passphrase,
		})
		if err != nil {
			return fmt.Errorf("tracker: open session store: %w", err)
		}
		defer s.Close()
		store = s
	}

	b, err := t.openBrowser(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			t.logger.Warn("tracker: close browser", "error", err)
		}
	}()

	page, err := b.OpenPage(ctx, t.loadSession(ctx, store))
	if err != nil {
		return fmt.Errorf("tracker: open page: %w", err)
	}
	defer page.Close()

	if err := fn(page, store); err != nil {
		t.screenshot(page)
		return err
	}
	return nil
}

func (t *Tracker) openBrowser(ctx context.Context) (browser.Browser, error) {
	if t.browser != nil {
		return t.browser, nil
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        t.cfg.Browser.Remote,
		Headless:         t.cfg.Browser.Headless,
		XvfbDisplay:      t.cfg.Browser.XvfbDisplay,
		ResourceBlocking: t.cfg.Browser.ResourceBlocking,
		DisableStealth:   t.cfg.Browser.DisableStealth,
		Logger:           t.logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("tracker: start browser: %w", err)
	}
	return mgr, nil
}

// loadSession returns the saved session or nil. Any failure means a fresh
// login, never a failed run.
func (t *Tracker) loadSession(ctx context.Context, store session.Store) []byte {
	state, err := store.Load(ctx)
	switch {
	case err == nil:
		t.logger.Info("tracker: loaded saved session", "bytes", len(state))
		return state
	case errors.Is(err, session.ErrNotFound):
		t.logger.Info("tracker: no saved session, a login will be needed")
	default:
		t.logger.Warn("tracker: saved session unusable, starting fresh", "error", err)
	}
	return nil
}

func (t *Tracker) detector() *login.Detector {
	return login.NewDetector(login.DetectorConfig{
		AuthURL:      t.cfg.AuthURL,
		ProbeTimeout: t.cfg.Timeouts.Probe,
		Logger:       t.logger,
	})
}

func (t *Tracker) sequencer(store session.Store) *login.Sequencer {
	return login.NewSequencer(login.SequencerConfig{
		Detector:    t.detector(),
		Store:       store,
		Credentials: login.Credentials{Username: t.cfg.Username, Password: t.cfg.Password},
		Timeout:     t.cfg.Timeouts.Operation,
		IdleTimeout: t.cfg.Timeouts.Idle,
		Grace:       t.cfg.Timeouts.Grace,
		Logger:      t.logger,
	})
}

func (t *Tracker) orchestrator() *acquire.Orchestrator {
	return acquire.New(acquire.Config{
		BaseURL:       t.cfg.BaseURL,
		SiteID:        t.cfg.SiteID,
		APIFragment:   t.cfg.APIFragment,
		Detector:      t.detector(),
		Timeout:       t.cfg.Timeouts.Operation,
		IdleTimeout:   t.cfg.Timeouts.Idle,
		ReloadTimeout: t.cfg.Timeouts.Reload,
		APIWait:       t.cfg.Timeouts.APIWait,
		DOMWait:       t.cfg.Timeouts.DOMWait,
		Logger:        t.logger,
	})
}

// dispatch sends msg to every sink and reports whether all succeeded.
func (t *Tracker) dispatch(ctx context.Context, msg report.Message) bool {
	r := notify.NewRouter(t.logger, t.sinks...)
	defer r.Close()
	if err := r.Send(ctx, msg); err != nil {
		t.logger.Error("tracker: notification failed, csv is still written", "error", err)
		return false
	}
	return true
}

// screenshot saves the diagnostic image. The run context may already be
// done, so it gets its own deadline.
func (t *Tracker) screenshot(page browser.Page) {
	path := t.cfg.Output.Screenshot
	if path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := page.Screenshot(ctx, path); err != nil {
		t.logger.Warn("tracker: screenshot failed", "path", path, "error", err)
		return
	}
	t.logger.Info("tracker: saved debug screenshot", "path", path)
}

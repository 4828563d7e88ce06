// Package login decides whether the browser is parked on the portal's
// credential screen and, if so, drives the two-step sign-in.
package login

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/browser"
)

// Default markup probes of the identity provider's login screens.
const (
	PasswordProbe = "input[type='password']"
	UsernameProbe = "input[name='username']"
)

// DefaultKeywords are URL fragments that denote a login or identification
// screen.
var DefaultKeywords = []string{"login", "log in", "sign in", "authentication", "identifier"}

// buttonWords match login button labels.
var buttonWords = []string{"log", "sign", "continue"}

// Snapshot is the page state a login decision is made from.
type Snapshot struct {
	URL             string
	URLMatch        bool
	PasswordVisible bool
	UsernameVisible bool
	LoginButton     bool
	// Probed counts the DOM probes that ran; Failed those that errored.
	Probed int
	Failed int
}

// LoginRequired reports whether the snapshot shows a credential screen.
func (s Snapshot) LoginRequired() bool {
	return s.URLMatch || s.PasswordVisible || s.UsernameVisible || s.LoginButton
}

// Inconclusive reports whether every DOM probe errored, which leaves the
// page classified as non-login without positive evidence.
func (s Snapshot) Inconclusive() bool {
	return !s.URLMatch && s.Probed > 0 && s.Failed == s.Probed
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// AuthURL is the identity provider base, e.g. https://auth.microlise.com.
	AuthURL string
	// Keywords default to DefaultKeywords.
	Keywords []string
	// ProbeTimeout bounds each DOM probe. Default: 2s.
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Detector classifies pages as login screens.
type Detector struct {
	authBase string
	authHost string
	keywords []string
	probeTTL time.Duration
	logger   *slog.Logger
}

// NewDetector returns a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Detector{
		authBase: strings.ToLower(strings.TrimRight(cfg.AuthURL, "/")),
		probeTTL: cfg.ProbeTimeout,
		logger:   cfg.Logger,
	}
	if u, err := url.Parse(cfg.AuthURL); err == nil {
		d.authHost = strings.ToLower(u.Hostname())
	}
	for _, k := range cfg.Keywords {
		d.keywords = append(d.keywords, strings.ToLower(k))
	}
	return d
}

// MatchURL reports whether raw points at the identity provider or contains
// a login keyword.
func (d *Detector) MatchURL(raw string) bool {
	lower := strings.ToLower(raw)
	if d.authBase != "" && strings.Contains(lower, d.authBase) {
		return true
	}
	if d.authHost != "" {
		if u, err := url.Parse(raw); err == nil && strings.EqualFold(u.Hostname(), d.authHost) {
			return true
		}
	}
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Detect builds a Snapshot, stopping at the first positive signal. A probe
// that errors or times out counts as a negative signal.
func (d *Detector) Detect(ctx context.Context, page browser.Page) Snapshot {
	s := Snapshot{URL: page.URL()}
	if s.URLMatch = d.MatchURL(s.URL); s.URLMatch {
		return s
	}

	probes := []struct {
		name string
		run  func(context.Context) (bool, error)
		set  *bool
	}{
		{"password", func(c context.Context) (bool, error) { return page.Visible(c, PasswordProbe) }, &s.PasswordVisible},
		{"username", func(c context.Context) (bool, error) { return page.Visible(c, UsernameProbe) }, &s.UsernameVisible},
		{"button", func(c context.Context) (bool, error) { return page.ButtonLabeled(c, buttonWords) }, &s.LoginButton},
	}

	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, d.probeTTL)
		ok, err := p.run(pctx)
		timedOut := pctx.Err() != nil
		cancel()

		s.Probed++
		if err != nil {
			if !timedOut {
				s.Failed++
			}
			d.logger.Debug("login: probe failed", "probe", p.name, "timeout", timedOut, "error", err)
			continue
		}
		if ok {
			*p.set = true
			return s
		}
	}

	if s.Inconclusive() {
		d.logger.Warn("login: detection inconclusive, treating page as authenticated",
			"url", s.URL, "probes_failed", s.Failed)
	}
	return s
}

// LoginRequired is shorthand for Detect(ctx, page).LoginRequired().
func (d *Detector) LoginRequired(ctx context.Context, page browser.Page) bool {
	return d.Detect(ctx, page).LoginRequired()
}

// Package config holds the tracker configuration: defaults, an optional
// YAML file, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tracker configuration.
type Config struct {
	SiteID      string `yaml:"site_id"`
	BaseURL     string `yaml:"base_url"`
	AuthURL     string `yaml:"auth_url"`
	APIFragment string `yaml:"api_fragment"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Session  SessionConfig `yaml:"session"`
	Browser  BrowserConfig `yaml:"browser"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Output   OutputConfig  `yaml:"output"`
	Notify   NotifyConfig  `yaml:"notify"`
	LogLevel string        `yaml:"log_level"`
}

// SessionConfig selects where the authenticated session is kept.
type SessionConfig struct {
	Backend    string `yaml:"backend"` // file | sqlite
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Headless         bool     `yaml:"headless"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	DisableStealth   bool     `yaml:"disable_stealth"`
}

// TimeoutConfig bounds every wait of a run.
type TimeoutConfig struct {
	Operation time.Duration `yaml:"operation"`
	APIWait   time.Duration `yaml:"api_wait"`
	DOMWait   time.Duration `yaml:"dom_wait"`
	Idle      time.Duration `yaml:"idle"`
	Reload    time.Duration `yaml:"reload"`
	Probe     time.Duration `yaml:"probe"`
	Grace     time.Duration `yaml:"grace"`
	Webhook   time.Duration `yaml:"webhook"`
}

// OutputConfig names the run artifacts. An empty JSON path disables the raw
// payload dump.
type OutputConfig struct {
	CSV        string `yaml:"csv"`
	JSON       string `yaml:"json"`
	Screenshot string `yaml:"screenshot"`
}

// NotifyConfig configures summary delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Retries    int    `yaml:"retries"`
	// Stdout also prints the card as JSON.
	Stdout bool `yaml:"stdout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{Browser: BrowserConfig{Headless: true}}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SiteID == "" {
		c.SiteID = "218"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://live.microlise.com/MORRISONS"
	}
	if c.AuthURL == "" {
		c.AuthURL = "https://auth.microlise.com"
	}
	if c.APIFragment == "" {
		c.APIFragment = "/TMCWebPortal/Site/ListVisits"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "file"
	}
	if c.Session.Path == "" {
		c.Session.Path = "auth_state.json"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}

	t := &c.Timeouts
	for _, d := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.Operation, 60 * time.Second},
		{&t.APIWait, 25 * time.Second},
		{&t.DOMWait, 20 * time.Second},
		{&t.Idle, 15 * time.Second},
		{&t.Reload, 30 * time.Second},
		{&t.Probe, 2 * time.Second},
		{&t.Grace, 2 * time.Second},
		{&t.Webhook, 10 * time.Second},
	} {
		if *d.v == 0 {
			*d.v = d.def
		}
	}

	if c.Output.CSV == "" {
		c.Output.CSV = "visits.csv"
	}
	if c.Output.Screenshot == "" {
		c.Output.Screenshot = "debug_screenshot.png"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvUsername          = "MICROLISE_USERNAME"
	EnvPassword          = "MICROLISE_PASSWORD"
	EnvAuthState         = "MICROLISE_AUTH_STATE"
	EnvSiteID            = "MICROLISE_SITE_ID"
	EnvHeadless          = "MICROLISE_HEADLESS"
	EnvBrowserURL        = "MICROLISE_BROWSER_URL"
	EnvSessionBackend    = "MICROLISE_SESSION_BACKEND"
	EnvSessionPassphrase = "MICROLISE_SESSION_PASSPHRASE"
	EnvWebhookURL        = "GOOGLE_CHAT_WEBHOOK_URL"
	EnvLogLevel          = "LOG_LEVEL"
)

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv. Variables that are unset or empty are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	}

	for key, dst := range map[string]*string{
		EnvUsername:          &c.Username,
		EnvPassword:          &c.Password,
		EnvAuthState:         &c.Session.Path,
		EnvSiteID:            &c.SiteID,
		EnvBrowserURL:        &c.Browser.Remote,
		EnvSessionBackend:    &c.Session.Backend,
		EnvSessionPassphrase: &c.Session.Passphrase,
		EnvWebhookURL:        &c.Notify.WebhookURL,
		EnvLogLevel:          &c.LogLevel,
	} {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if v, ok := get(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvHeadless, err)
		}
		c.Browser.Headless = b
	}
	return nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid field. Credentials are not checked here:
// they are only needed when the saved session has expired.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SiteID) == "" {
		errs = append(errs, errors.New("site_id is required"))
	}
	for name, raw := range map[string]string{"base_url": c.BaseURL, "auth_url": c.AuthURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", name, raw))
		}
	}
	if c.Notify.WebhookURL != "" {
		if u, err := url.Parse(c.Notify.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("notify.webhook_url is not an absolute URL"))
		}
	}
	switch c.Session.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not file or sqlite", c.Session.Backend))
	}
	if c.Session.Path == "" {
		errs = append(errs, errors.New("session.path is required"))
	}
	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"operation": t.Operation, "api_wait": t.APIWait, "dom_wait": t.DOMWait,
		"idle": t.Idle, "reload": t.Reload, "probe": t.Probe, "grace": t.Grace,
		"webhook": t.Webhook,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must not be negative", name))
		}
	}
	if c.Output.CSV == "" {
		errs = append(errs, errors.New("output.csv is required"))
	}
	if c.Notify.Retries < 0 {
		errs = append(errs, errors.New("notify.retries must not be negative"))
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not debug, info, warn or error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

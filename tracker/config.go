package tracker

import (
	"github.com/hazyhaar/sitevisits/tracker/internal/config"
)

// Config is the top-level tracker configuration. Re-exported from internal.
type Config = config.Config

// SessionConfig selects where the authenticated session is kept.
type SessionConfig = config.SessionConfig

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// TimeoutConfig bounds every wait of a run.
type TimeoutConfig = config.TimeoutConfig

// OutputConfig names the run artifacts.
type OutputConfig = config.OutputConfig

// NotifyConfig configures summary delivery.
type NotifyConfig = config.NotifyConfig

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

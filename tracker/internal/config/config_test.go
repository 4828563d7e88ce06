package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "218", cfg.SiteID)
	assert.Equal(t, "https://live.microlise.com/MORRISONS", cfg.BaseURL)
	assert.Equal(t, "auth_state.json", cfg.Session.Path)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Operation)
	assert.Equal(t, 25*time.Second, cfg.Timeouts.APIWait)
	assert.Equal(t, "visits.csv", cfg.Output.CSV)
	assert.Equal(t, "", cfg.Output.JSON)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitevisits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site_id: "305"
session:
  backend: sqlite
  path: state/sessions.db
browser:
  resource_blocking: [images, fonts]
timeouts:
  api_wait: 40s
output:
  json: raw.json
notify:
  webhook_url: https://chat.googleapis.com/v1/spaces/x/messages
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "305", cfg.SiteID)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.True(t, cfg.Browser.Headless, "omitted keys keep their defaults")
	assert.Equal(t, []string{"images", "fonts"}, cfg.Browser.ResourceBlocking)
	assert.Equal(t, 40*time.Second, cfg.Timeouts.APIWait)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.DOMWait)
	assert.Equal(t, "raw.json", cfg.Output.JSON)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeouts: [nope"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvUsername:   "Store218",
		EnvPassword:   "secret",
		EnvAuthState:  "/var/lib/sitevisits/state.json",
		EnvHeadless:   "false",
		EnvWebhookURL: "https://chat.example/hook",
		EnvSiteID:     "   ",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "Store218", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "/var/lib/sitevisits/state.json", cfg.Session.Path)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "https://chat.example/hook", cfg.Notify.WebhookURL)
	assert.Equal(t, "218", cfg.SiteID, "blank values are ignored")
}

func TestApplyEnv_BadBool(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvHeadless {
			return "maybe", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, EnvHeadless)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.SiteID = ""
	cfg.BaseURL = "live.microlise.com"
	cfg.Session.Backend = "redis"
	cfg.Timeouts.APIWait = -time.Second
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"site_id", "base_url", "redis", "api_wait", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}

package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/sitevisits/tracker/internal/browser/browsertest"
	"github.com/hazyhaar/sitevisits/tracker/internal/session"
)

const (
	authURL   = "https://auth.microlise.com"
	loginURL  = "https://auth.microlise.com/u/login/identifier?state=abc"
	visitsURL = "https://live.microlise.com/MORRISONS/TMCWebPortal/Site/Visits/218?siteIdEncoded=False"
)

func newDetector() *Detector {
	return NewDetector(DetectorConfig{AuthURL: authURL, ProbeTimeout: 50 * time.Millisecond})
}

type memStore struct {
	mu    sync.Mutex
	saved [][]byte
}

func (m *memStore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil, session.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *memStore) Save(_ context.Context, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, b)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestDetect_AuthDomainShortCircuits(t *testing.T) {
	// WHAT: An identity-provider URL is a login page whatever the DOM says.
	// WHY: The URL check runs first and must not depend on probes.
	page := browsertest.NewPage("https://AUTH.microlise.com/authorize")
	page.ProbeErr = errors.New("probe exploded")

	snap := newDetector().Detect(context.Background(), page)
	assert.True(t, snap.URLMatch)
	assert.True(t, snap.LoginRequired())
	assert.Zero(t, snap.Probed, "probes must not run after a URL match")
}

func TestMatchURL(t *testing.T) {
	d := newDetector()
	cases := map[string]bool{
		visitsURL: false,
		"https://live.microlise.com/MORRISONS/Account/Login":        true,
		"https://live.microlise.com/x?step=Identifier":              true,
		"https://auth.microlise.com/u/login/password":               true,
		"https://live.microlise.com/MORRISONS/TMCWebPortal/Site/x": false,
	}
	for u, want := range cases {
		assert.Equal(t, want, d.MatchURL(u), u)
	}
}

func TestDetect_Probes(t *testing.T) {
	cases := []struct {
		name  string
		setup func(p *browsertest.Page)
		want  bool
	}{
		{"password field", func(p *browsertest.Page) { p.Show(PasswordProbe) }, true},
		{"username field", func(p *browsertest.Page) { p.Show(UsernameProbe) }, true},
		{"continue button", func(p *browsertest.Page) { p.SetButtons("Continue") }, true},
		{"report page", func(p *browsertest.Page) { p.SetButtons("Export", "Refresh") }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := browsertest.NewPage(visitsURL)
			tc.setup(page)
			assert.Equal(t, tc.want, newDetector().LoginRequired(context.Background(), page))
		})
	}
}

func TestDetect_AllProbesFailIsPermissive(t *testing.T) {
	// WHAT: When every probe errors the page is treated as non-login but flagged.
	// WHY: Kept permissive for compatibility; Inconclusive lets callers tell it apart.
	page := browsertest.NewPage(visitsURL)
	page.ProbeErr = errors.New("execution context destroyed")

	snap := newDetector().Detect(context.Background(), page)
	assert.False(t, snap.LoginRequired())
	assert.True(t, snap.Inconclusive())
	assert.Equal(t, 3, snap.Failed)
}

// loginPage returns a page on the identifier screen whose form advances on
// clicks; succeed controls whether the password submit leaves the IdP.
func loginPage(succeed bool) *browsertest.Page {
	page := browsertest.NewPage(loginURL)
	page.Show(UsernameProbe, UsernameField, UsernameSubmit)
	page.State = []byte(`{"cookies":["authed"]}`)
	page.OnClick = func(p *browsertest.Page, sel string) {
		switch sel {
		case UsernameSubmit:
			p.HideAll()
			p.SetURL("https://auth.microlise.com/u/login/password?state=abc")
			p.Show(PasswordProbe, PasswordField, PasswordSubmit)
		case PasswordSubmit:
			if succeed {
				p.HideAll()
				p.SetURL(visitsURL)
			}
		}
	}
	return page
}

func newSequencer(store session.Store) *Sequencer {
	return NewSequencer(SequencerConfig{
		Detector:    newDetector(),
		Store:       store,
		Credentials: Credentials{Username: "Store218", Password: "hunter2"},
		Timeout:     200 * time.Millisecond,
		IdleTimeout: 10 * time.Millisecond,
		Grace:       10 * time.Millisecond,
	})
}

func TestRun_SuccessSavesSession(t *testing.T) {
	store := &memStore{}
	page := loginPage(true)

	require.NoError(t, newSequencer(store).Run(context.Background(), page))

	assert.Equal(t, "Store218", page.Filled(UsernameField))
	assert.Equal(t, "hunter2", page.Filled(PasswordField))
	assert.Equal(t, []string{UsernameSubmit, PasswordSubmit}, page.Clicks())
	require.Len(t, store.saved, 1)
	assert.JSONEq(t, `{"cookies":["authed"]}`, string(store.saved[0]))
}

func TestRun_MissingUsernameFieldFails(t *testing.T) {
	// WHAT: A username field that never appears fails within the step timeout.
	// WHY: Wrong markup is not transient; the run must stop, not hang or retry.
	store := &memStore{}
	page := browsertest.NewPage(loginURL)

	start := time.Now()
	err := newSequencer(store).Run(context.Background(), page)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), AwaitingUsername.String())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, store.saved)
}

func TestRun_StillOnLoginPageFails(t *testing.T) {
	store := &memStore{}
	page := loginPage(false)

	err := newSequencer(store).Run(context.Background(), page)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "login did not succeed")
	assert.Empty(t, store.saved)
}

func TestRun_LateRedirectWithinGrace(t *testing.T) {
	// WHAT: A redirect landing during the grace wait counts as success.
	// WHY: The IdP redirects back asynchronously after the password POST.
	store := &memStore{}
	page := loginPage(false)
	page.OnClick = func(p *browsertest.Page, sel string) {
		switch sel {
		case UsernameSubmit:
			p.Show(PasswordField, PasswordSubmit)
		case PasswordSubmit:
			go func() {
				time.Sleep(5 * time.Millisecond)
				p.HideAll()
				p.SetURL(visitsURL)
			}()
		}
	}

	seq := newSequencer(store)
	seq.grace = 200 * time.Millisecond
	require.NoError(t, seq.Run(context.Background(), page))
	assert.Len(t, store.saved, 1)
}

func TestRun_NoCredentials(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Detector: newDetector()})
	err := seq.Run(context.Background(), loginPage(true))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEnsure_ValidSessionSkipsLogin(t *testing.T) {
	store := &memStore{}
	page := browsertest.NewPage("about:blank")

	did, err := newSequencer(store).Ensure(context.Background(), page, visitsURL)
	require.NoError(t, err)
	assert.False(t, did)
	assert.Empty(t, page.Clicks())
	assert.Empty(t, store.saved)
}

func TestEnsure_RedirectedToLogin(t *testing.T) {
	store := &memStore{}
	page := loginPage(true)
	page.OnNavigate = func(p *browsertest.Page, _ string) {
		p.SetURL(loginURL)
	}

	did, err := newSequencer(store).Ensure(context.Background(), page, visitsURL)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Len(t, store.saved, 1)
}

func TestEnsure_LoadTimeoutStillDetectsLogin(t *testing.T) {
	store := &memStore{}
	page := loginPage(true)
	page.NavigateErr = fmt.Errorf("browsertest: wait load: %w", context.DeadlineExceeded)
	page.OnNavigate = func(p *browsertest.Page, _ string) {
		p.SetURL(loginURL)
	}

	did, err := newSequencer(store).Ensure(context.Background(), page, visitsURL)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Len(t, store.saved, 1)
}

func TestEnsure_NavigationFailureIsAuthentication(t *testing.T) {
	store := &memStore{}
	page := browsertest.NewPage("about:blank")
	page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	did, err := newSequencer(store).Ensure(context.Background(), page, visitsURL)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorContains(t, err, "ERR_NAME_NOT_RESOLVED")
	assert.False(t, did)
	assert.Empty(t, store.saved)
}

func TestEnsure_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := browsertest.NewPage("about:blank")

	_, err := newSequencer(&memStore{}).Ensure(ctx, page, visitsURL)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestCredentials_Redacted(t *testing.T) {
	c := Credentials{Username: "Store218", Password: "hunter2"}
	assert.NotContains(t, c.String(), "hunter2")
	assert.NotContains(t, c.LogValue().String(), "hunter2")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_password", AwaitingPassword.String())
	assert.Equal(t, "state(42)", State(42).String())
}

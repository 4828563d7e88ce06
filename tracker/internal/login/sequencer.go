package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/sitevisits/tracker/internal/browser"
	"github.com/hazyhaar/sitevisits/tracker/internal/session"
)

// ErrAuthentication is returned when the portal could not be brought to an
// authenticated state.
var ErrAuthentication = errors.New("login: authentication failed")

// Selectors of the identity provider's two-step form.
const (
	UsernameField  = "input[name='username'][id='username']"
	UsernameSubmit = "button[type='submit'][name='action'][value='default']._button-login-id"
	PasswordField  = "input[name='password'][id='password']"
	PasswordSubmit = "button[type='submit'][name='action'][value='default']._button-login-password"
)

// State is a step of the login sequence.
type State int

const (
	AwaitingUsername State = iota
	AwaitingPassword
	Submitted
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case AwaitingUsername:
		return "awaiting_username"
	case AwaitingPassword:
		return "awaiting_password"
	case Submitted:
		return "submitted"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SequencerConfig configures a Sequencer.
type SequencerConfig struct {
	Detector    *Detector
	Store       session.Store
	Credentials Credentials
	// Timeout bounds the password step and the post-submit navigation; the
	// username step gets half of it. Default: 60s.
	Timeout time.Duration
	// IdleTimeout bounds the network-idle wait after the first navigation.
	// Default: 15s.
	IdleTimeout time.Duration
	// Grace is the single wait allowed for asynchronous redirects after
	// submit. Default: 2s.
	Grace  time.Duration
	Logger *slog.Logger
}

// Sequencer drives the credential submission protocol.
type Sequencer struct {
	det    *Detector
	store  session.Store
	creds  Credentials
	ttl    time.Duration
	idle   time.Duration
	grace  time.Duration
	logger *slog.Logger
}

// NewSequencer returns a Sequencer.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(DetectorConfig{Logger: cfg.Logger})
	}
	return &Sequencer{
		det:    cfg.Detector,
		store:  cfg.Store,
		creds:  cfg.Credentials,
		ttl:    cfg.Timeout,
		idle:   cfg.IdleTimeout,
		grace:  cfg.Grace,
		logger: cfg.Logger,
	}
}

// Ensure opens target and logs in if the page lands on a credential screen.
// It reports whether a login was performed.
func (s *Sequencer) Ensure(ctx context.Context, page browser.Page, target string) (bool, error) {
	s.logger.Info("login: opening target to test session", "url", target)

	navCtx, cancel := context.WithTimeout(ctx, s.ttl)
	err := page.Navigate(navCtx, target)
	cancel()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, fmt.Errorf("login: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("login: target load timed out, checking for login anyway", "url", target, "error", err)
	default:
		return false, fmt.Errorf("%w: open %s: %v", ErrAuthentication, target, err)
	}

	idleCtx, cancel := context.WithTimeout(ctx, s.idle)
	if err := page.WaitIdle(idleCtx); err != nil {
		s.logger.Warn("login: network idle timeout, continuing", "error", err)
	}
	cancel()

	if !s.det.LoginRequired(ctx, page) {
		s.logger.Info("login: existing session looks valid, no login needed")
		return false, nil
	}

	s.logger.Info("login: login page detected, signing in", "credentials", s.creds)
	if err := s.Run(ctx, page); err != nil {
		return true, err
	}
	return true, nil
}

// Run executes the sequence from AwaitingUsername. There are no retries: a
// failed step is returned as ErrAuthentication.
func (s *Sequencer) Run(ctx context.Context, page browser.Page) error {
	if s.creds.Empty() {
		return s.fail(AwaitingUsername, errors.New("no credentials configured"))
	}

	state := AwaitingUsername
	for {
		s.logger.Info("login: step", "state", state)

		switch state {
		case AwaitingUsername:
			if err := s.submitUsername(ctx, page); err != nil {
				return s.fail(state, err)
			}
			state = AwaitingPassword
		case AwaitingPassword:
			if err := s.submitPassword(ctx, page); err != nil {
				return s.fail(state, err)
			}
			state = Submitted
		case Submitted:
			next, err := s.verify(ctx, page)
			if err != nil {
				return s.fail(state, err)
			}
			state = next
		case Success:
			s.persist(ctx, page)
			return nil
		default:
			return s.fail(Submitted, errors.New("login did not succeed (still on login page)"))
		}
	}
}

func (s *Sequencer) submitUsername(ctx context.Context, page browser.Page) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.ttl/2)
	defer cancel()

	if err := page.WaitVisible(stepCtx, UsernameField); err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := page.Fill(stepCtx, UsernameField, s.creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := page.Click(stepCtx, UsernameSubmit); err != nil {
		return fmt.Errorf("submit username: %w", err)
	}
	return nil
}

func (s *Sequencer) submitPassword(ctx context.Context, page browser.Page) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()

	if err := page.WaitVisible(stepCtx, PasswordField); err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := page.Fill(stepCtx, PasswordField, s.creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, s.ttl)
	defer cancelNav()
	if err := page.ClickAndWait(navCtx, PasswordSubmit); err != nil {
		return fmt.Errorf("submit password: %w", err)
	}
	return nil
}

// verify re-checks the page, allowing one grace wait for late redirects.
func (s *Sequencer) verify(ctx context.Context, page browser.Page) (State, error) {
	if !s.det.LoginRequired(ctx, page) {
		return Success, nil
	}

	s.logger.Info("login: still on login page, waiting for redirect", "grace", s.grace)
	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Failure, ctx.Err()
	case <-t.C:
	}

	if s.det.LoginRequired(ctx, page) {
		return Failure, nil
	}
	return Success, nil
}

// persist saves the authenticated session. A failed save only costs the
// next run a login, so it is logged.
func (s *Sequencer) persist(ctx context.Context, page browser.Page) {
	s.logger.Info("login: login successful")
	if s.store == nil {
		return
	}
	blob, err := page.ExportState(ctx)
	if err != nil {
		s.logger.Warn("login: export session failed", "error", err)
		return
	}
	if err := s.store.Save(ctx, blob); err != nil {
		s.logger.Warn("login: save session failed", "error", err)
		return
	}
	s.logger.Info("login: session saved", "bytes", len(blob))
}

func (s *Sequencer) fail(at State, cause error) error {
	s.logger.Error("login: sequence failed", "state", at, "error", cause)
	return fmt.Errorf("%w: %s: %v", ErrAuthentication, at, cause)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type LoginState int

const (
	LoginNotStarted LoginState = iota
	LoginAwaitingChallenge
	LoginFormVisible
	LoginSubmitted
	LoginAuthenticated
	LoginFailed
)

func (s LoginState) String() string {
	switch s {
	case LoginNotStarted:
		return "NotStarted"
	case LoginAwaitingChallenge:
		return "AwaitingChallenge"
	case LoginFormVisible:
		return "FormVisible"
	case LoginSubmitted:
		return "Submitted"
	case LoginAuthenticated:
		return "Authenticated"
	case LoginFailed:
		return "Failed"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

var (
	errChallengeUnresolved = errors.New("challenge unresolved")
	errLoginRejected       = errors.New("login did not reach the dashboard")
)

type LoginSettings struct {
	URL               string
	NotFoundFragment  string
	DashboardFragment string
	ErrorFragment     string

	DashboardMarker Locator
	ErrorMarker     Locator
	Consent         Affordance
	Challenge       Locator
	SiteKeyAttr     string
	SiteKey         string
	TokenInput      Locator
	Username        Locator
	Password        Locator
	Submit          Locator

	NavigateWait    WaitCondition
	NavigateTimeout time.Duration
	Settle          time.Duration
	SolveTimeout    time.Duration
	FormWait        time.Duration
	FieldWait       time.Duration
	ResultTimeout   time.Duration
	Interval        time.Duration
}

// LoginFlow walks one login attempt. Run restarts it from NotStarted each
// time, so the stage executor can simply call it again on failure.
type LoginFlow struct {
	settings LoginSettings
	creds    Credentials
	driver   Driver
	solver   ChallengeSolver
	logger   *zap.Logger

	state   LoginState
	history []LoginState
}

func NewLoginFlow(settings LoginSettings, creds Credentials, driver Driver, solver ChallengeSolver, logger *zap.Logger) *LoginFlow {
	return &LoginFlow{
		settings: settings,
		creds:    creds,
		driver:   driver,
		solver:   solver,
		logger:   logger.Named("login"),
	}
}

func (f *LoginFlow) State() LoginState { return f.state }

// History lists the states visited by the latest Run, in order.
func (f *LoginFlow) History() []LoginState {
	return append([]LoginState(nil), f.history...)
}

func (f *LoginFlow) transition(to LoginState) {
	f.logger.Debug("Login state", zap.Stringer("from", f.state), zap.Stringer("to", to))
	f.state = to
	f.history = append(f.history, to)
}

func (f *LoginFlow) fail(err error) error {
	f.transition(LoginFailed)
	return err
}

// Authenticated holds once the dashboard is showing.
func (f *LoginFlow) Authenticated() Predicate {
	preds := []Predicate{locationContains(f.driver, f.settings.DashboardFragment)}
	if !f.settings.DashboardMarker.IsZero() {
		preds = append(preds, present(f.driver, f.settings.DashboardMarker))
	}
	return anyOf(preds...)
}

func (f *LoginFlow) rejected() Predicate {
	preds := []Predicate{locationContains(f.driver, f.settings.ErrorFragment)}
	if !f.settings.ErrorMarker.IsZero() {
		preds = append(preds, present(f.driver, f.settings.ErrorMarker))
	}
	return anyOf(preds...)
}

func (f *LoginFlow) NotFound() Predicate {
	return locationContains(f.driver, f.settings.NotFoundFragment)
}

func (f *LoginFlow) Run(ctx context.Context) error {
	s := f.settings
	f.state = LoginNotStarted
	f.history = []LoginState{LoginNotStarted}

	f.logger.Info("Navigating to login page", zap.String("url", s.URL))
	if err := f.driver.Navigate(ctx, s.URL, s.NavigateWait, s.NavigateTimeout); err != nil {
		return f.fail(err)
	}
	if err := sleepCtx(ctx, s.Settle); err != nil {
		return f.fail(err)
	}

	if loc, err := f.driver.CurrentLocation(ctx); err == nil {
		f.logger.Debug("Landed", zap.String("location", loc))
	}
	if f.NotFound()(ctx) {
		return f.fail(fatalf("login navigation landed on not-found page"))
	}
	if f.Authenticated()(ctx) {
		f.logger.Info("Session already authenticated")
		f.transition(LoginAuthenticated)
		return nil
	}

	ClickOptional(ctx, f.driver, s.Consent, s.Interval, f.logger)

	solved := false
	if !s.Challenge.IsZero() && present(f.driver, s.Challenge)(ctx) {
		f.transition(LoginAwaitingChallenge)
		if err := f.solveChallenge(ctx); err != nil {
			return f.fail(err)
		}
		solved = true
	}

	ready := PollUntil(ctx, anyOf(present(f.driver, s.Username), f.Authenticated()), s.FormWait, s.Interval)
	if f.Authenticated()(ctx) {
		f.logger.Info("Dashboard reached without submitting credentials")
		f.transition(LoginAuthenticated)
		return nil
	}
	if !ready {
		if solved {
			return f.fail(fatalf("login form %s absent after challenge was solved", s.Username))
		}
		return f.fail(fmt.Errorf("login form %s did not appear: %w", s.Username, ErrElementNotFound))
	}
	if err := waitFor(ctx, f.driver, s.Password, s.FieldWait, s.Interval); err != nil {
		return f.fail(fmt.Errorf("password field %s: %w", s.Password, err))
	}
	f.transition(LoginFormVisible)

	if err := f.driver.Type(ctx, s.Username, f.creds.Email); err != nil {
		return f.fail(fmt.Errorf("failed to fill username: %w", err))
	}
	if err := f.driver.Type(ctx, s.Password, f.creds.Password); err != nil {
		return f.fail(fmt.Errorf("failed to fill password: %w", err))
	}
	if err := waitFor(ctx, f.driver, s.Submit, s.FieldWait, s.Interval); err != nil {
		return f.fail(fmt.Errorf("sign in button %s: %w", s.Submit, err))
	}
	if err := f.driver.Click(ctx, s.Submit); err != nil {
		return f.fail(fmt.Errorf("failed to click sign in: %w", err))
	}
	f.transition(LoginSubmitted)

	PollUntil(ctx, anyOf(f.Authenticated(), f.rejected()), s.ResultTimeout, s.Interval)
	if f.Authenticated()(ctx) {
		f.transition(LoginAuthenticated)
		return nil
	}
	loc, _ := f.driver.CurrentLocation(ctx)
	return f.fail(fmt.Errorf("%w (location %q)", errLoginRejected, loc))
}

// solveChallenge asks the solver for a fresh token and writes it into the
// page. The token is never kept beyond this call.
func (f *LoginFlow) solveChallenge(ctx context.Context) error {
	s := f.settings

	siteKey := s.SiteKey
	if el, err := f.driver.FindElement(ctx, s.Challenge); err == nil && el != nil {
		if v, ok, err := el.Attribute(ctx, s.SiteKeyAttr); err == nil && ok && v != "" {
			siteKey = v
		}
	}
	if siteKey == "" {
		return fmt.Errorf("%w: no site key on %s", errChallengeUnresolved, s.Challenge)
	}

	pageURL, err := f.driver.CurrentLocation(ctx)
	if err != nil || pageURL == "" {
		pageURL = s.URL
	}

	solveCtx := ctx
	if s.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.SolveTimeout)
		defer cancel()
	}

	token, ok := f.solver.Solve(solveCtx, pageURL, siteKey)
	if !ok {
		return errChallengeUnresolved
	}
	if err := f.driver.SetValue(ctx, s.TokenInput, string(token)); err != nil {
		return fmt.Errorf("failed to apply challenge token: %w", err)
	}
	f.logger.Info("Challenge token applied")
	return nil
}

// Stage wraps the flow for the stage executor.
func (f *LoginFlow) Stage(policy RetryPolicy, timeout, interval time.Duration) Stage {
	return Stage{
		ID:       StageLogin,
		Action:   f.Run,
		Done:     f.Authenticated(),
		Fatal:    f.NotFound(),
		Policy:   policy,
		Timeout:  timeout,
		Interval: interval,
	}
}

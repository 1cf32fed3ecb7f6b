package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testLoginURL     = "https://portal.test/aus/en/ind/login"
	testDashboardURL = "https://portal.test/aus/en/ind/dashboard"
)

var (
	consentButton = Locator{CSS: "#onetrust-accept-btn-handler"}
	challengeBox  = Locator{CSS: ".cf-turnstile"}
	tokenInput    = Locator{CSS: "input[name='cf-turnstile-response']"}
	usernameField = Locator{CSS: "input[formcontrolname='username']"}
	passwordField = Locator{CSS: "input[formcontrolname='password']"}
	signInButton  = Locator{CSS: "button.sign-in"}
	dashboardMark = Locator{CSS: ".dashboard"}
	loginErrorBox = Locator{CSS: ".alert-danger"}
)

func testLoginSettings() LoginSettings {
	return LoginSettings{
		URL:               testLoginURL,
		NotFoundFragment:  "page-not-found",
		DashboardFragment: "dashboard",
		ErrorFragment:     "login-error",
		DashboardMarker:   dashboardMark,
		ErrorMarker:       loginErrorBox,
		Consent:           Affordance{Name: "consent", Locator: consentButton, Wait: testInterval},
		Challenge:         challengeBox,
		SiteKeyAttr:       "data-sitekey",
		SiteKey:           "fallback-key",
		TokenInput:        tokenInput,
		Username:          usernameField,
		Password:          passwordField,
		Submit:            signInButton,
		FormWait:          testTimeout,
		FieldWait:         testTimeout,
		ResultTimeout:     testTimeout,
		SolveTimeout:      testTimeout,
		Interval:          testInterval,
	}
}

var testCreds = Credentials{Email: "user@example.test", Password: "hunter2"}

// showLoginForm renders the credential form; submitting it lands on the
// dashboard.
func showLoginForm(d *fakeDriver) {
	d.show(usernameField, "")
	d.show(passwordField, "")
	d.show(signInButton, "Sign In")
	d.onClick[signInButton] = func(d *fakeDriver) { d.setLocation(testDashboardURL) }
}

func runLoginStage(t *testing.T, d *fakeDriver, solver ChallengeSolver, budget int) (*LoginFlow, StageResult) {
	t.Helper()
	flow := NewLoginFlow(testLoginSettings(), testCreds, d, solver, zaptest.NewLogger(t))
	res := newTestExecutor(t, d, "").Run(context.Background(), flow.Stage(FixedPolicy(budget, 0), testTimeout, testInterval))
	return flow, res
}

func TestLoginAlreadyAuthenticated(t *testing.T) {
	d := newFakeDriver()
	d.onNavigate = func(d *fakeDriver, _ string) { d.show(dashboardMark, "Welcome") }
	showLoginForm(d)
	solver := &scriptedSolver{}

	flow, res := runLoginStage(t, d, solver, 3)

	require.True(t, res.OK(), res.Err)
	assert.Len(t, res.Attempts, 1)
	assert.Zero(t, d.typeCount(), "no credentials typed")
	assert.Zero(t, d.clickCount(signInButton))
	assert.Zero(t, solver.calls)
	assert.Equal(t, LoginAuthenticated, flow.State())
}

func TestLoginSolverRecoversOnThirdAttempt(t *testing.T) {
	d := newFakeDriver()
	d.showWithAttrs(challengeBox, "", map[string]string{"data-sitekey": "0x4AAAA"})
	d.onSetValue[tokenInput] = func(d *fakeDriver, _ string) { showLoginForm(d) }
	solver := &scriptedSolver{replies: []string{"", "", "tok-3"}}

	flow, res := runLoginStage(t, d, solver, 3)

	require.True(t, res.OK(), res.Err)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, RetryableFailure, res.Attempts[0].Outcome)
	assert.Contains(t, res.Attempts[0].Reason, errChallengeUnresolved.Error())
	assert.Equal(t, RetryableFailure, res.Attempts[1].Outcome)
	assert.Equal(t, Success, res.Attempts[2].Outcome)

	assert.Equal(t, 3, solver.calls)
	assert.Equal(t, []string{"0x4AAAA", "0x4AAAA", "0x4AAAA"}, solver.keys)
	assert.Equal(t, "tok-3", d.values[tokenInput])
	assert.Equal(t, testCreds.Email, d.typed[usernameField])
	assert.Equal(t, testCreds.Password, d.typed[passwordField])
	assert.Len(t, d.navigations, 3)
	assert.Equal(t, []LoginState{LoginNotStarted, LoginAwaitingChallenge, LoginFormVisible, LoginSubmitted, LoginAuthenticated}, flow.History())
}

func TestLoginSolverBudgetTooSmall(t *testing.T) {
	d := newFakeDriver()
	d.show(challengeBox, "")
	d.onSetValue[tokenInput] = func(d *fakeDriver, _ string) { showLoginForm(d) }
	solver := &scriptedSolver{replies: []string{"", "", "tok-3"}}

	flow, res := runLoginStage(t, d, solver, 2)

	assert.ErrorIs(t, res.Err, ErrExhausted)
	assert.ErrorIs(t, res.Err, errChallengeUnresolved)
	assert.Equal(t, 2, solver.calls)
	assert.Equal(t, []string{"fallback-key", "fallback-key"}, solver.keys, "config site key used when attribute is missing")
	assert.Equal(t, LoginFailed, flow.State())
}

func TestLoginFormAbsentAfterChallengeIsFatal(t *testing.T) {
	d := newFakeDriver()
	d.show(challengeBox, "")
	solver := &scriptedSolver{replies: []string{"tok-1", "tok-2"}}

	_, res := runLoginStage(t, d, solver, 3)

	assert.True(t, IsFatal(res.Err))
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, solver.calls)
}

func TestLoginNotFoundIsFatal(t *testing.T) {
	d := newFakeDriver()
	d.onNavigate = func(d *fakeDriver, _ string) { d.setLocation("https://portal.test/page-not-found") }
	showLoginForm(d)

	_, res := runLoginStage(t, d, &scriptedSolver{}, 5)

	assert.True(t, IsFatal(res.Err))
	assert.Len(t, res.Attempts, 1)
	assert.Zero(t, d.typeCount())
}

func TestLoginWithoutChallenge(t *testing.T) {
	d := newFakeDriver()
	d.show(consentButton, "Accept")
	showLoginForm(d)
	solver := &scriptedSolver{}

	flow, res := runLoginStage(t, d, solver, 1)

	require.True(t, res.OK(), res.Err)
	assert.Equal(t, 1, d.clickCount(consentButton))
	assert.Equal(t, 1, d.clickCount(signInButton))
	assert.Zero(t, solver.calls)
	assert.NotContains(t, flow.History(), LoginAwaitingChallenge)
}

func TestLoginRejected(t *testing.T) {
	d := newFakeDriver()
	showLoginForm(d)
	d.onClick[signInButton] = func(d *fakeDriver) { d.show(loginErrorBox, "Invalid credentials") }

	flow, res := runLoginStage(t, d, &scriptedSolver{}, 2)

	assert.ErrorIs(t, res.Err, ErrExhausted)
	assert.ErrorIs(t, res.Err, errLoginRejected)
	assert.Equal(t, 2, d.clickCount(signInButton))
	assert.Equal(t, LoginFailed, flow.State())
}

func TestLoginStateString(t *testing.T) {
	assert.Equal(t, "AwaitingChallenge", LoginAwaitingChallenge.String())
	assert.Equal(t, "LoginState(99)", LoginState(99).String())
}

package captcha

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

const recaptchaFrame = "iframe[src^='https://www.google.com/recaptcha/api2/anchor?']"

func TestCommercialStrategy_ResolveGeeTest_Success(t *testing.T) {
	session := newFakeSession(geetestPage)
	solver := &fakeSolver{geetest: &GeeTestResponse{Challenge: "c1s", Validate: "v1", SecCode: "s1"}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)
	require.NoError(t, err)

	require.Len(t, solver.geetestCalls, 1)
	assert.Equal(t, geetestCall{GT: "g1", Challenge: "c1", URL: session.url}, solver.geetestCalls[0])

	require.Len(t, session.scripts, 1)
	script := session.scripts[0]
	assert.True(t, strings.HasPrefix(script, "solvedCaptcha({"))
	assert.Contains(t, script, `geetest_challenge: "c1s"`)
	assert.Contains(t, script, `geetest_seccode: "s1"`)
	assert.Contains(t, script, `geetest_validate: "v1"`)
	assert.Contains(t, script, `data: "abc123"`)
	assert.Zero(t, session.reloads)

	stats := strategy.opts.Metrics.GetStats("fake")
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestCommercialStrategy_ResolveGeeTest_UnsolvableExhaustsAttempts(t *testing.T) {
	session := newFakeSession(geetestPage)
	third := types.NewCaptchaUnsolvableError("fake", "third")
	solver := &fakeSolver{errs: []error{
		types.NewCaptchaUnsolvableError("fake", "first"),
		types.NewCaptchaUnsolvableError("fake", "second"),
		third,
		types.NewCaptchaUnsolvableError("fake", "fourth"),
	}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Same(t, third, err)
	assert.Len(t, solver.geetestCalls, 3)
	assert.Equal(t, 3, session.reloads)
	assert.Empty(t, session.scripts)

	stats := strategy.opts.Metrics.GetStats("fake")
	require.NotNil(t, stats)
	assert.Equal(t, int64(3), stats.Unsolvable)
}

func TestCommercialStrategy_ResolveGeeTest_SlowAttemptsKeepEveryTry(t *testing.T) {
	session := newFakeSession(geetestPage)
	solver := &fakeSolver{
		delay: 20 * time.Millisecond,
		errs: []error{
			types.NewCaptchaUnsolvableError("fake", "1"),
			types.NewCaptchaUnsolvableError("fake", "2"),
			types.NewCaptchaUnsolvableError("fake", "3"),
			types.NewCaptchaUnsolvableError("fake", "4"),
		},
	}
	opts := fastOptions()
	opts.MaxAttempts = 4
	strategy := NewCommercialStrategy(solver, opts)

	err := strategy.ResolveGeeTest(context.Background(), session)

	assert.ErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Len(t, solver.geetestCalls, 4)
}

func TestCommercialStrategy_ResolveGeeTest_RecoversAfterUnsolvable(t *testing.T) {
	session := newFakeSession(geetestPage)
	solver := &fakeSolver{
		errs:    []error{types.NewCaptchaUnsolvableError("fake", "ERROR_CAPTCHA_UNSOLVABLE")},
		geetest: &GeeTestResponse{Challenge: "c2", Validate: "v2", SecCode: "s2"},
	}
	strategy := NewCommercialStrategy(solver, fastOptions())

	require.NoError(t, strategy.ResolveGeeTest(context.Background(), session))
	assert.Len(t, solver.geetestCalls, 2)
	assert.Equal(t, 1, session.reloads)
	assert.Len(t, session.scripts, 1)
}

func TestCommercialStrategy_ResolveGeeTest_BalanceEmptyNotRetried(t *testing.T) {
	session := newFakeSession(geetestPage)
	balanceErr := types.NewCaptchaBalanceError("fake")
	solver := &fakeSolver{errs: []error{balanceErr}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)

	assert.Equal(t, error(balanceErr), err)
	assert.ErrorIs(t, err, types.ErrCaptchaBalanceEmpty)
	assert.Len(t, solver.geetestCalls, 1)
	assert.Zero(t, session.reloads)
}

func TestCommercialStrategy_ResolveGeeTest_NetworkErrorNotRetried(t *testing.T) {
	session := newFakeSession(geetestPage)
	netErr := types.NewNetworkError("fake", "solve", errors.New("connection refused"))
	solver := &fakeSolver{errs: []error{netErr}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)

	assert.ErrorIs(t, err, types.ErrCaptchaNetwork)
	assert.NotErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Len(t, solver.geetestCalls, 1)
	assert.Zero(t, session.reloads)
}

func TestCommercialStrategy_ResolveGeeTest_MissingParams(t *testing.T) {
	session := newFakeSession("<html><body>nothing here</body></html>")
	solver := &fakeSolver{}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)

	assert.ErrorIs(t, err, types.ErrCaptchaParamsNotFound)
	assert.Empty(t, solver.geetestCalls)
	assert.Zero(t, session.reloads)
}

func TestCommercialStrategy_ResolveGeeTest_ReloadFailure(t *testing.T) {
	session := newFakeSession(geetestPage)
	session.reloadErr = errors.New("navigation failed")
	solver := &fakeSolver{errs: []error{types.NewCaptchaUnsolvableError("fake", "x")}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(context.Background(), session)

	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Len(t, solver.geetestCalls, 1)
	assert.Equal(t, 1, session.reloads)
}

func TestCommercialStrategy_ResolveGeeTest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := newFakeSession(geetestPage)
	solver := &fakeSolver{}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveGeeTest(ctx, session)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, solver.geetestCalls)
}

func recaptchaSession() *fakeSession {
	s := newFakeSession(`<div class="g-recaptcha" data-sitekey="site-key-1"></div>`)
	s.visible[recaptchaFrame] = true
	s.attributes[".g-recaptcha@data-sitekey"] = "site-key-1"
	return s
}

func TestCommercialStrategy_ResolveRecaptcha_AutomatedSolve(t *testing.T) {
	session := recaptchaSession()
	solver := &fakeSolver{recaptcha: &RecaptchaResponse{Result: "tok-1"}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{})
	require.NoError(t, err)

	require.Len(t, solver.recaptchaCalls, 1)
	assert.Equal(t, recaptchaCall{SiteKey: "site-key-1", URL: session.url}, solver.recaptchaCalls[0])
	require.Len(t, session.scripts, 2)
	assert.Equal(t, `document.getElementById("g-recaptcha-response").innerHTML = "tok-1";`, session.scripts[0])
	assert.Equal(t, `solvedCaptcha("tok-1");`, session.scripts[1])
	assert.Zero(t, session.reloads)
}

func TestCommercialStrategy_ResolveRecaptcha_UnsolvableRetried(t *testing.T) {
	session := recaptchaSession()
	solver := &fakeSolver{errs: []error{
		types.NewCaptchaUnsolvableError("fake", "1"),
		types.NewCaptchaUnsolvableError("fake", "2"),
		types.NewCaptchaUnsolvableError("fake", "3"),
	}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{})

	assert.ErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Len(t, solver.recaptchaCalls, 3)
	assert.Equal(t, 3, session.reloads)
}

func TestCommercialStrategy_ResolveRecaptcha_FrameStaysVisible(t *testing.T) {
	session := recaptchaSession()
	session.invisibleFn = func(selectors.Locator) error { return types.ErrWaitTimeout }
	solver := &fakeSolver{recaptcha: &RecaptchaResponse{Result: "tok"}}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{})

	assert.ErrorIs(t, err, types.ErrCaptchaUnsolvable)
	assert.Len(t, solver.recaptchaCalls, 3)
	assert.Equal(t, 3, session.reloads)
}

func TestCommercialStrategy_ResolveRecaptcha_BranchSelection(t *testing.T) {
	tests := []struct {
		name         string
		opts         RecaptchaOptions
		framePresent bool
		wantSolve    bool
		wantClick    bool
	}{
		{"automated", RecaptchaOptions{}, true, true, false},
		{"no frame", RecaptchaOptions{}, false, false, false},
		{"checkbox with frame", RecaptchaOptions{Checkbox: true}, true, false, true},
		{"checkbox without frame", RecaptchaOptions{Checkbox: true}, false, false, true},
		{"after login text", RecaptchaOptions{AfterLoginText: "Mein Konto"}, true, false, false},
		{"after login text no frame", RecaptchaOptions{AfterLoginText: "Mein Konto"}, false, false, false},
		{"checkbox and text", RecaptchaOptions{Checkbox: true, AfterLoginText: "Mein Konto"}, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := recaptchaSession()
			session.visible[recaptchaFrame] = tt.framePresent
			solver := &fakeSolver{recaptcha: &RecaptchaResponse{Result: "tok"}}
			strategy := NewCommercialStrategy(solver, fastOptions())

			err := strategy.ResolveRecaptcha(context.Background(), session, tt.opts)
			require.NoError(t, err)

			if tt.wantSolve {
				assert.Len(t, solver.recaptchaCalls, 1)
			} else {
				assert.Empty(t, solver.recaptchaCalls)
				assert.Empty(t, session.scripts)
			}
			if tt.wantClick {
				assert.Equal(t, []string{".recaptcha-checkbox-checkmark"}, session.clicks)
			} else {
				assert.Empty(t, session.clicks)
			}
		})
	}
}

func TestCommercialStrategy_ResolveRecaptcha_CheckboxTimeoutIsBestEffort(t *testing.T) {
	session := recaptchaSession()
	solver := &fakeSolver{}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{Checkbox: true})

	require.NoError(t, err)
	assert.Equal(t, []string{recaptchaFrame}, session.frames)
	assert.Equal(t, 1, session.leaves)
	assert.Contains(t, session.waitedOn, ".recaptcha-checkbox-checked")
}

func TestCommercialStrategy_ResolveRecaptcha_CheckboxClickError(t *testing.T) {
	session := recaptchaSession()
	session.clickErr = errors.New("element detached")
	strategy := NewCommercialStrategy(&fakeSolver{}, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{Checkbox: true})

	assert.EqualError(t, err, "element detached")
	assert.Equal(t, 1, session.leaves)
}

func TestCommercialStrategy_ResolveRecaptcha_AfterLoginText(t *testing.T) {
	session := recaptchaSession()
	marker := selectors.Text("Mein Konto")
	session.visible[marker.Value] = true
	strategy := NewCommercialStrategy(&fakeSolver{}, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{AfterLoginText: "Mein Konto"})

	require.NoError(t, err)
	assert.Contains(t, session.waitedOn, marker.Value)
}

func TestCommercialStrategy_ResolveRecaptcha_MissingSiteKey(t *testing.T) {
	session := recaptchaSession()
	delete(session.attributes, ".g-recaptcha@data-sitekey")
	solver := &fakeSolver{}
	strategy := NewCommercialStrategy(solver, fastOptions())

	err := strategy.ResolveRecaptcha(context.Background(), session, RecaptchaOptions{})

	assert.ErrorIs(t, err, types.ErrElementNotFound)
	assert.Empty(t, solver.recaptchaCalls)
	assert.Zero(t, session.reloads)
}

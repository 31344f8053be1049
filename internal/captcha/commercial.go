package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/humanize"
	"github.com/Rorqualx/flathunter-go/internal/metrics"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// CommercialStrategy hands challenges to a paid solving backend and feeds
// the answers back into the page.
type CommercialStrategy struct {
	solver CommercialSolver
	opts   Options
}

// NewCommercialStrategy creates a CommercialStrategy backed by solver.
func NewCommercialStrategy(solver CommercialSolver, opts Options) *CommercialStrategy {
	return &CommercialStrategy{
		solver: solver,
		opts:   opts.withDefaults(),
	}
}

// Name returns the strategy name.
func (c *CommercialStrategy) Name() string {
	return string(KindCommercial)
}

// Solver returns the backend this strategy uses.
func (c *CommercialStrategy) Solver() CommercialSolver {
	return c.solver
}

// ResolveGeeTest extracts the GeeTest parameters from the page, solves them
// and posts the answer to the page's callback. Unsolvable attempts reload
// the page and are retried up to MaxAttempts times.
func (c *CommercialStrategy) ResolveGeeTest(ctx context.Context, s Session) error {
	return c.withRetry(ctx, "geetest", func() error {
		return c.geeTestAttempt(ctx, s)
	})
}

// ResolveRecaptcha clears a reCAPTCHA in one of three ways. With neither
// Checkbox nor AfterLoginText set and the widget frame on the page, a token
// is bought and injected. Checkbox clicks the widget. AfterLoginText waits
// for that text. Only the first path can fail with an unsolvable error.
func (c *CommercialStrategy) ResolveRecaptcha(ctx context.Context, s Session, opts RecaptchaOptions) error {
	return c.withRetry(ctx, "recaptcha", func() error {
		return c.recaptchaAttempt(ctx, s, opts)
	})
}

// withRetry repeats attempt while it ends unsolvable. Every other outcome
// stops the loop and is returned as is.
func (c *CommercialStrategy) withRetry(ctx context.Context, kind string, attempt func() error) error {
	n := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		n++
		err := attempt()
		outcome := Classify(err)
		switch {
		case outcome == OutcomeSolved:
			return struct{}{}, nil
		case outcome.Retryable():
			log.Warn().
				Err(err).
				Str("kind", kind).
				Int("attempt", n).
				Uint("max_attempts", c.opts.MaxAttempts).
				Msg("Captcha unsolvable")
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.RetryInterval)),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	err = unwrapPermanent(err)

	outcome := Classify(err)
	metrics.RecordResolution(kind, c.Name(), outcome.String())
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", kind).
			Str("outcome", outcome.String()).
			Int("attempts", n).
			Msg("Captcha resolution failed")
	}
	return err
}

func (c *CommercialStrategy) geeTestAttempt(ctx context.Context, s Session) error {
	sel := c.opts.Selectors.Get()

	html, err := s.HTML(ctx)
	if err != nil {
		return err
	}
	params, err := ExtractGeeTestParams(html)
	if err != nil {
		return err
	}
	pageURL, err := s.URL(ctx)
	if err != nil {
		return err
	}

	resp, err := observe(c, "geetest", func() (*GeeTestResponse, error) {
		return c.solver.SolveGeeTest(ctx, params.GT, params.Challenge, pageURL)
	})
	if err != nil {
		return c.reloadIfUnsolvable(ctx, s, err)
	}

	if err := s.Exec(ctx, geeTestCallbackScript(sel.SolvedCallback, resp, params.Data)); err != nil {
		return fmt.Errorf("submit geetest solution: %w", err)
	}

	if !humanize.SleepWithContext(ctx, c.opts.SettleDelay) {
		return ctx.Err()
	}
	return nil
}

func (c *CommercialStrategy) recaptchaAttempt(ctx context.Context, s Session, opts RecaptchaOptions) error {
	sel := c.opts.Selectors.Get()

	present, err := c.framePresent(ctx, s, sel.Locators.RecaptchaFrame)
	if err != nil {
		return err
	}

	switch {
	case !opts.Checkbox && opts.AfterLoginText == "" && present:
		return c.solveRecaptcha(ctx, s, sel)
	case opts.Checkbox:
		return c.clickCheckbox(ctx, s, sel)
	case opts.AfterLoginText != "":
		return c.waitBestEffort(ctx, s, selectors.Text(opts.AfterLoginText), "after-login text")
	default:
		return nil
	}
}

// framePresent reports whether the widget frame shows up within FrameTimeout.
func (c *CommercialStrategy) framePresent(ctx context.Context, s Session, frame selectors.Locator) (bool, error) {
	err := s.WaitVisible(ctx, frame, c.opts.FrameTimeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrWaitTimeout), errors.Is(err, types.ErrElementNotFound):
		log.Info().Msg("No reCAPTCHA frame found, no verification necessary")
		return false, nil
	default:
		return false, err
	}
}

func (c *CommercialStrategy) solveRecaptcha(ctx context.Context, s Session, sel *selectors.Selectors) error {
	siteKey, err := s.Attribute(ctx, sel.Locators.RecaptchaWidget, sel.RecaptchaSitekeyAttribute, c.opts.FrameTimeout)
	if err != nil {
		return fmt.Errorf("read recaptcha site key: %w", err)
	}
	if siteKey == "" {
		return &types.CaptchaError{
			Provider: c.solver.Name(),
			Code:     "SITEKEY_EMPTY",
			Message:  "reCAPTCHA widget has no site key",
			Err:      types.ErrCaptchaParamsNotFound,
		}
	}
	pageURL, err := s.URL(ctx)
	if err != nil {
		return err
	}

	resp, err := observe(c, "recaptcha", func() (*RecaptchaResponse, error) {
		return c.solver.SolveRecaptcha(ctx, siteKey, pageURL)
	})
	if err != nil {
		return c.reloadIfUnsolvable(ctx, s, err)
	}

	if err := s.Exec(ctx, recaptchaResponseScript(sel.RecaptchaResponseID, resp.Result)); err != nil {
		return fmt.Errorf("inject recaptcha token: %w", err)
	}
	if err := s.Exec(ctx, recaptchaCallbackScript(sel.SolvedCallback, resp.Result)); err != nil {
		return fmt.Errorf("submit recaptcha token: %w", err)
	}

	err = s.WaitInvisible(ctx, sel.Locators.RecaptchaFrame, c.opts.FrameTimeout)
	switch {
	case err == nil, errors.Is(err, types.ErrElementNotFound):
		return nil
	case errors.Is(err, types.ErrWaitTimeout):
		return c.reloadIfUnsolvable(ctx, s, types.NewCaptchaUnsolvableError(c.solver.Name(), "FRAME_STILL_VISIBLE"))
	default:
		return err
	}
}

func (c *CommercialStrategy) clickCheckbox(ctx context.Context, s Session, sel *selectors.Selectors) error {
	err := s.EnterFrame(ctx, sel.Locators.RecaptchaFrame, c.opts.FrameTimeout)
	if err != nil {
		if isMissing(err) {
			log.Warn().Err(err).Msg("reCAPTCHA frame not found, skipping checkbox")
			return nil
		}
		return err
	}
	defer func() {
		if err := s.LeaveFrame(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to return to main document")
		}
	}()

	if err := s.Click(ctx, sel.Locators.RecaptchaCheckbox, c.opts.FrameTimeout); err != nil {
		if isMissing(err) {
			log.Warn().Err(err).Msg("reCAPTCHA checkbox not found")
			return nil
		}
		return err
	}

	return c.waitBestEffort(ctx, s, sel.Locators.RecaptchaChecked, "checkbox checked state")
}

// waitBestEffort waits for loc to become visible and only logs if it doesn't.
func (c *CommercialStrategy) waitBestEffort(ctx context.Context, s Session, loc selectors.Locator, what string) error {
	err := s.WaitVisible(ctx, loc, c.opts.ConfirmTimeout)
	if err != nil && isMissing(err) {
		log.Warn().
			Err(err).
			Str("waiting_for", what).
			Msg("Timed out waiting for captcha confirmation, continuing")
		return nil
	}
	return err
}

// reloadIfUnsolvable reloads the page before an unsolvable error is retried
// so the next attempt sees a fresh challenge.
func (c *CommercialStrategy) reloadIfUnsolvable(ctx context.Context, s Session, err error) error {
	if Classify(err) != OutcomeUnsolvable {
		return err
	}
	if reloadErr := s.Reload(ctx); reloadErr != nil {
		return fmt.Errorf("reload after unsolvable captcha: %w", reloadErr)
	}
	return err
}

// observe times a backend call and records its outcome.
func observe[T any](c *CommercialStrategy, kind string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	c.opts.Metrics.RecordAttempt(c.solver.Name(), kind, Classify(err), time.Since(start), err)
	return v, err
}

func isMissing(err error) bool {
	return errors.Is(err, types.ErrWaitTimeout) || errors.Is(err, types.ErrElementNotFound)
}

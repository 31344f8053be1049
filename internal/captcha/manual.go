package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/metrics"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// ManualStrategy leaves solving to a person at the browser and only waits
// for the challenge to go away.
type ManualStrategy struct {
	opts Options
}

// NewManualStrategy creates a ManualStrategy.
func NewManualStrategy(opts Options) *ManualStrategy {
	return &ManualStrategy{opts: opts.withDefaults()}
}

// Name returns the strategy name.
func (m *ManualStrategy) Name() string {
	return string(KindManual)
}

// ResolveGeeTest waits for the GeeTest container to disappear.
func (m *ManualStrategy) ResolveGeeTest(ctx context.Context, s Session) error {
	log.Warn().Msg("Waiting for manual solution of the GeeTest puzzle")
	loc := m.opts.Selectors.Get().Locators.GeeTestContainer
	if err := m.waitCleared(ctx, s, loc, "geetest"); err != nil {
		return err
	}
	log.Debug().Msg("GeeTest container is gone")
	return nil
}

// ResolveRecaptcha waits for the reCAPTCHA frame to disappear. opts are
// ignored; the person at the browser handles whatever the widget asks for.
func (m *ManualStrategy) ResolveRecaptcha(ctx context.Context, s Session, _ RecaptchaOptions) error {
	log.Warn().Msg("Waiting for manual solution of the reCAPTCHA puzzle")
	loc := m.opts.Selectors.Get().Locators.RecaptchaFrame
	if err := m.waitCleared(ctx, s, loc, "recaptcha"); err != nil {
		return err
	}
	log.Debug().Msg("reCAPTCHA frame is gone")
	return nil
}

// waitCleared treats a timeout or a missing element as cleared. Only
// cancellation and session failures are returned.
func (m *ManualStrategy) waitCleared(ctx context.Context, s Session, loc selectors.Locator, kind string) error {
	start := time.Now()
	err := s.WaitInvisible(ctx, loc, m.opts.ManualTimeout)

	switch {
	case err == nil:
	case errors.Is(err, types.ErrWaitTimeout):
		log.Warn().
			Str("kind", kind).
			Dur("waited", time.Since(start)).
			Msg("Gave up waiting for manual captcha solution, continuing")
	case errors.Is(err, types.ErrElementNotFound):
	default:
		metrics.RecordResolution(kind, m.Name(), OutcomeFailed.String())
		return err
	}

	metrics.RecordResolution(kind, m.Name(), OutcomeSolved.String())
	return nil
}

package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

const (
	defaultNetworkInterval = 1 * time.Second
	defaultNetworkBudget   = 100 * time.Second
)

// NetworkRetry bounds how long a backend keeps retrying transport failures
// before surfacing them.
type NetworkRetry struct {
	Interval time.Duration // constant delay between attempts
	Budget   time.Duration // total wall-clock time across attempts
}

// DefaultNetworkRetry returns the policy used when none is configured.
func DefaultNetworkRetry() NetworkRetry {
	return NetworkRetry{Interval: defaultNetworkInterval, Budget: defaultNetworkBudget}
}

func (p NetworkRetry) normalize() NetworkRetry {
	if p.Interval <= 0 {
		p.Interval = defaultNetworkInterval
	}
	if p.Budget <= 0 {
		p.Budget = defaultNetworkBudget
	}
	return p
}

// retryNetwork runs fn until it succeeds, fails with anything other than a
// network error, or the policy's budget is spent.
func retryNetwork[T any](ctx context.Context, policy NetworkRetry, provider, op string, fn func() (T, error)) (T, error) {
	policy = policy.normalize()
	attempt := 0

	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, types.ErrCaptchaNetwork) {
			return v, backoff.Permanent(err)
		}
		log.Debug().
			Err(err).
			Str("provider", provider).
			Str("op", op).
			Int("attempt", attempt).
			Msg("Captcha backend unreachable, retrying")
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Interval)),
		backoff.WithMaxElapsedTime(policy.Budget),
	)
	return v, unwrapPermanent(err)
}

// unwrapPermanent strips the marker backoff.Retry leaves on errors that
// stopped the loop, so callers see the original error value.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

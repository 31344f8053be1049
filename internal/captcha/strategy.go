package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// Strategy clears a challenge on a live page. A strategy is configured once
// and reused across crawls; each call owns its Session until it returns.
type Strategy interface {
	// Name returns "manual" or "commercial".
	Name() string
	// ResolveGeeTest returns once the GeeTest challenge on s is cleared.
	ResolveGeeTest(ctx context.Context, s Session) error
	// ResolveRecaptcha returns once the reCAPTCHA on s is cleared, or once
	// the best-effort wait selected by opts gives up.
	ResolveRecaptcha(ctx context.Context, s Session, opts RecaptchaOptions) error
}

// RecaptchaOptions select how a reCAPTCHA is handled.
type RecaptchaOptions struct {
	// Checkbox clicks the widget checkbox instead of requesting a token.
	Checkbox bool
	// AfterLoginText is text that appears once the page is past the
	// challenge. When set, the strategy only waits for it.
	AfterLoginText string
}

// SelectorSource provides the current challenge locators. *selectors.Manager
// satisfies it.
type SelectorSource interface {
	Get() *selectors.Selectors
}

// StrategyKind names a Strategy implementation.
type StrategyKind string

const (
	KindNone       StrategyKind = ""
	KindManual     StrategyKind = "manual"
	KindCommercial StrategyKind = "commercial"
)

// ParseStrategyKind parses a configured strategy name.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindNone, KindManual, KindCommercial:
		return k, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, s)
	}
}

// Options tune strategy timing. Zero values take the defaults below.
type Options struct {
	Selectors SelectorSource
	Metrics   *Metrics

	ManualTimeout  time.Duration // ceiling for a human to clear a challenge
	MaxAttempts    uint          // commercial attempts per resolve call
	RetryInterval  time.Duration // pause between commercial attempts
	SettleDelay    time.Duration // pause after handing a GeeTest result to the page
	FrameTimeout   time.Duration // iframe detection and disappearance
	ConfirmTimeout time.Duration // checkbox checked state and after-login text
}

const (
	defaultManualTimeout  = 10 * time.Hour
	defaultMaxAttempts    = 3
	defaultRetryInterval  = 1 * time.Second
	defaultSettleDelay    = 2 * time.Second
	defaultFrameTimeout   = 10 * time.Second
	defaultConfirmTimeout = 120 * time.Second
)

// DefaultOptions returns the default strategy timing.
func DefaultOptions() Options {
	return Options{
		ManualTimeout:  defaultManualTimeout,
		MaxAttempts:    defaultMaxAttempts,
		RetryInterval:  defaultRetryInterval,
		SettleDelay:    defaultSettleDelay,
		FrameTimeout:   defaultFrameTimeout,
		ConfirmTimeout: defaultConfirmTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Selectors == nil {
		o.Selectors = selectors.GetManager()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	if o.ManualTimeout <= 0 {
		o.ManualTimeout = d.ManualTimeout
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = d.FrameTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = d.ConfirmTimeout
	}
	return o
}

// NewStrategy builds the strategy named by kind. KindNone yields
// types.ErrCaptchaNotConfigured so callers can disable themselves.
func NewStrategy(kind StrategyKind, solver CommercialSolver, opts Options) (Strategy, error) {
	switch kind {
	case KindManual:
		return NewManualStrategy(opts), nil
	case KindCommercial:
		if solver == nil {
			return nil, fmt.Errorf("commercial strategy needs a solver: %w", types.ErrCaptchaNotConfigured)
		}
		return NewCommercialStrategy(solver, opts), nil
	case KindNone:
		return nil, types.ErrCaptchaNotConfigured
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, kind)
	}
}

// SolverConfig selects and configures a solving backend.
type SolverConfig struct {
	Provider         string
	TwoCaptchaAPIKey string
	CapSolverAPIKey  string
	Timeout          time.Duration
	Retry            NetworkRetry
}

// NewSolver builds the backend named by cfg.Provider.
func NewSolver(cfg SolverConfig) (CommercialSolver, error) {
	switch strings.ToLower(cfg.Provider) {
	case "2captcha", "twocaptcha":
		if cfg.TwoCaptchaAPIKey == "" {
			return nil, fmt.Errorf("2captcha: %w", types.ErrCaptchaNotConfigured)
		}
		return NewTwoCaptchaSolver(TwoCaptchaConfig{
			APIKey:  cfg.TwoCaptchaAPIKey,
			Timeout: cfg.Timeout,
			Retry:   cfg.Retry,
		}), nil
	case "capsolver":
		if cfg.CapSolverAPIKey == "" {
			return nil, fmt.Errorf("capsolver: %w", types.ErrCaptchaNotConfigured)
		}
		return NewCapSolverSolver(CapSolverConfig{
			APIKey:  cfg.CapSolverAPIKey,
			Timeout: cfg.Timeout,
			Retry:   cfg.Retry,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownProvider, cfg.Provider)
	}
}

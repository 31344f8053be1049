// Package humanize provides jittered timing so browser polling and clicks
// do not run on a machine-regular cadence.
package humanize

import (
	"context"
	"math/rand"
	"time"
)

// TimingConfig contains the millisecond ranges used for jittered delays.
type TimingConfig struct {
	PollIntervalMinMs int
	PollIntervalMaxMs int

	PreActionDelayMinMs int
	PreActionDelayMaxMs int
}

// DefaultTimingConfig returns defaults tuned for DOM polling.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		PollIntervalMinMs:   400,
		PollIntervalMaxMs:   800,
		PreActionDelayMinMs: 100,
		PreActionDelayMaxMs: 400,
	}
}

// Timing provides humanized timing utilities.
type Timing struct {
	config TimingConfig
}

// NewTiming creates a new timing utility with default config.
func NewTiming() *Timing {
	return &Timing{config: DefaultTimingConfig()}
}

// NewTimingWithConfig creates a new timing utility with custom config.
func NewTimingWithConfig(config TimingConfig) *Timing {
	return &Timing{config: config}
}

// PollInterval returns the delay between two checks of a DOM condition.
func (t *Timing) PollInterval() time.Duration {
	return RandomDuration(t.config.PollIntervalMinMs, t.config.PollIntervalMaxMs)
}

// PreActionDelay returns the pause before a click.
func (t *Timing) PreActionDelay() time.Duration {
	return RandomDuration(t.config.PreActionDelayMinMs, t.config.PreActionDelayMaxMs)
}

// RandomDuration returns a random duration between min and max milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// SleepWithContext sleeps for d or until ctx is canceled.
// Returns true if the sleep completed normally, false if interrupted.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

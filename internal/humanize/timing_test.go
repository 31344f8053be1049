package humanize

import (
	"context"
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	tests := []struct {
		name   string
		minMs  int
		maxMs  int
		minExp time.Duration
		maxExp time.Duration
	}{
		{"typical range", 100, 500, 100 * time.Millisecond, 500 * time.Millisecond},
		{"same min max", 200, 200, 200 * time.Millisecond, 200 * time.Millisecond},
		{"zero min", 0, 100, 0, 100 * time.Millisecond},
		{"inverted range returns min", 500, 100, 500 * time.Millisecond, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := RandomDuration(tt.minMs, tt.maxMs)
				if got < tt.minExp || got > tt.maxExp {
					t.Errorf("RandomDuration(%d, %d) = %v, want between %v and %v",
						tt.minMs, tt.maxMs, got, tt.minExp, tt.maxExp)
				}
			}
		})
	}
}

func TestTimingMethods(t *testing.T) {
	timing := NewTimingWithConfig(TimingConfig{
		PollIntervalMinMs:   10,
		PollIntervalMaxMs:   20,
		PreActionDelayMinMs: 5,
		PreActionDelayMaxMs: 5,
	})

	for i := 0; i < 50; i++ {
		if d := timing.PollInterval(); d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Fatalf("PollInterval() = %v out of range", d)
		}
	}
	if d := timing.PreActionDelay(); d != 5*time.Millisecond {
		t.Errorf("PreActionDelay() = %v, want 5ms", d)
	}
}

func TestDefaultTimingConfig(t *testing.T) {
	cfg := DefaultTimingConfig()
	if cfg.PollIntervalMinMs > cfg.PollIntervalMaxMs {
		t.Error("poll interval min exceeds max")
	}
	if cfg.PreActionDelayMinMs > cfg.PreActionDelayMaxMs {
		t.Error("pre-action delay min exceeds max")
	}
}

func TestSleepWithContext_Completes(t *testing.T) {
	start := time.Now()
	if !SleepWithContext(context.Background(), 20*time.Millisecond) {
		t.Fatal("SleepWithContext returned false, want true")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("slept %v, want at least 20ms", elapsed)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if SleepWithContext(ctx, 5*time.Second) {
		t.Fatal("SleepWithContext returned true, want false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestSleepWithContext_ZeroDuration(t *testing.T) {
	if !SleepWithContext(context.Background(), 0) {
		t.Error("zero sleep on live context should return true")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SleepWithContext(ctx, 0) {
		t.Error("zero sleep on canceled context should return false")
	}
}

package captcha

import (
	"sync"
	"time"

	"github.com/Rorqualx/flathunter-go/internal/metrics"
)

// Metrics tracks per-provider usage of solving backends for the lifetime
// of the process and mirrors each update to Prometheus.
type Metrics struct {
	mu        sync.RWMutex
	providers map[string]*ProviderStats
}

// ProviderStats contains statistics for a single provider.
type ProviderStats struct {
	Attempts      int64     // Total solve attempts
	Successes     int64     // Solved attempts
	Unsolvable    int64     // Attempts the backend gave up on
	BalanceErrors int64     // Attempts refused for lack of credit
	Failures      int64     // Any other failure
	TotalTimeMs   int64     // Total time spent solving in milliseconds
	LastUsed      time.Time // Last time this provider was used
	LastBalance   float64   // Last known balance
	LastError     string    // Last error message
	LastErrorAt   time.Time // When the last error occurred
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		providers: make(map[string]*ProviderStats),
	}
}

// RecordAttempt records one backend round-trip and its outcome.
func (m *Metrics) RecordAttempt(provider, kind string, outcome Outcome, duration time.Duration, err error) {
	metrics.RecordSolve(provider, kind, duration)

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.Attempts++
	stats.LastUsed = time.Now()
	stats.TotalTimeMs += duration.Milliseconds()

	switch outcome {
	case OutcomeSolved:
		stats.Successes++
	case OutcomeUnsolvable:
		stats.Unsolvable++
	case OutcomeBalanceExhausted:
		stats.BalanceErrors++
	default:
		stats.Failures++
	}

	if err != nil {
		stats.LastError = err.Error()
		stats.LastErrorAt = stats.LastUsed
	}
}

// UpdateBalance updates the cached balance for a provider.
func (m *Metrics) UpdateBalance(provider string, balance float64) {
	metrics.SetSolverBalance(provider, balance)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(provider).LastBalance = balance
}

// GetStats returns a copy of stats for a provider, or nil if it was never used.
func (m *Metrics) GetStats(provider string) *ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists {
		return nil
	}
	cp := *stats
	return &cp
}

// Snapshot returns all metrics as a map suitable for structured output.
func (m *Metrics) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]any, len(m.providers))
	for name, stats := range m.providers {
		entry := map[string]any{
			"attempts":       stats.Attempts,
			"successes":      stats.Successes,
			"unsolvable":     stats.Unsolvable,
			"balance_errors": stats.BalanceErrors,
			"failures":       stats.Failures,
			"success_rate":   successRate(stats),
			"avg_time_ms":    avgTimeMs(stats),
			"last_balance":   stats.LastBalance,
		}
		if !stats.LastUsed.IsZero() {
			entry["last_used"] = stats.LastUsed.Format(time.RFC3339)
		}
		if stats.LastError != "" {
			entry["last_error"] = stats.LastError
			entry["last_error_at"] = stats.LastErrorAt.Format(time.RFC3339)
		}
		result[name] = entry
	}
	return result
}

// SuccessRate returns the success percentage for a provider.
func (m *Metrics) SuccessRate(provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists {
		return 0
	}
	return successRate(stats)
}

// AverageTime returns the average solve time for a provider.
func (m *Metrics) AverageTime(provider string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists {
		return 0
	}
	return time.Duration(avgTimeMs(stats)) * time.Millisecond
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = make(map[string]*ProviderStats)
}

// getOrCreate must be called with lock held.
func (m *Metrics) getOrCreate(provider string) *ProviderStats {
	stats, exists := m.providers[provider]
	if !exists {
		stats = &ProviderStats{}
		m.providers[provider] = stats
	}
	return stats
}

func successRate(s *ProviderStats) float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts) * 100
}

func avgTimeMs(s *ProviderStats) int64 {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalTimeMs / s.Attempts
}

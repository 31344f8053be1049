// Package stats tracks per-site crawl statistics and derives a polite delay
// between page loads from them.
package stats

import (
	"math"
	"net/url"
	"sync"
	"time"
)

// SiteStats holds counters for one listing site.
type SiteStats struct {
	mu sync.RWMutex

	LoadCount      int64
	SuccessCount   int64
	ErrorCount     int64
	ThrottledCount int64
	Challenges     map[string]int64

	totalLatencyMs int64

	LastLoadTime    time.Time
	LastSuccessTime time.Time
	LastThrottled   time.Time
	throttleBackoff time.Duration
}

// SiteStatsJSON is the serialisable form of SiteStats.
type SiteStatsJSON struct {
	LoadCount        int64            `json:"loadCount"`
	SuccessCount     int64            `json:"successCount"`
	ErrorCount       int64            `json:"errorCount"`
	ThrottledCount   int64            `json:"throttledCount"`
	Challenges       map[string]int64 `json:"challenges,omitempty"`
	AvgLatencyMs     int64            `json:"avgLatencyMs"`
	LastLoadTime     time.Time        `json:"lastLoadTime,omitempty"`
	LastSuccessTime  time.Time        `json:"lastSuccessTime,omitempty"`
	SuggestedDelayMs int64            `json:"suggestedDelayMs"`
}

// ErrorRate returns the share of failed loads.
func (s *SiteStats) ErrorRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.LoadCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.LoadCount)
}

// suggestedDelay must be called with the read lock held.
func (s *SiteStats) suggestedDelay(minDelay, maxDelay time.Duration, now time.Time) time.Duration {
	if s.LoadCount == 0 {
		return minDelay
	}

	avgLatency := float64(s.totalLatencyMs) / float64(s.LoadCount)
	errorRate := float64(s.ErrorCount) / float64(s.LoadCount)
	if math.IsNaN(avgLatency) || math.IsInf(avgLatency, 0) {
		avgLatency = 0
	}

	// Half the latency, stretched by up to 6x as loads start failing.
	delayMs := avgLatency / 2 * (1 + errorRate*5)
	delay := time.Duration(delayMs) * time.Millisecond

	if !s.LastThrottled.IsZero() {
		if remaining := s.LastThrottled.Add(s.throttleBackoff).Sub(now); remaining > delay {
			delay = remaining
		}
	}

	return max(minDelay, min(maxDelay, delay))
}

// Manager owns the stats of every site seen.
type Manager struct {
	mu    sync.RWMutex
	sites map[string]*SiteStats

	MinDelay time.Duration
	MaxDelay time.Duration
}

// NewManager creates a Manager with no minimum delay and a 5 minute cap.
func NewManager() *Manager {
	return &Manager{
		sites:    make(map[string]*SiteStats),
		MaxDelay: 5 * time.Minute,
	}
}

// ExtractSite returns the host of a listing URL.
func ExtractSite(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func (m *Manager) getOrCreate(site string) *SiteStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[site]
	if !ok {
		s = &SiteStats{Challenges: make(map[string]int64)}
		m.sites[site] = s
	}
	return s
}

// Get returns the stats for site, or nil if it was never recorded.
func (m *Manager) Get(site string) *SiteStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sites[site]
}

// RecordLoad records one finished page load.
func (m *Manager) RecordLoad(site string, latency time.Duration, success bool) {
	if site == "" {
		return
	}
	s := m.getOrCreate(site)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.LoadCount++
	s.totalLatencyMs += latency.Milliseconds()
	s.LastLoadTime = now
	if success {
		s.SuccessCount++
		s.LastSuccessTime = now
	} else {
		s.ErrorCount++
	}
}

// RecordChallenge counts a challenge of kind shown by site.
func (m *Manager) RecordChallenge(site, kind string) {
	if site == "" {
		return
	}
	s := m.getOrCreate(site)
	s.mu.Lock()
	s.Challenges[kind]++
	s.mu.Unlock()
}

// RecordThrottled notes that site asked us to back off for backoff.
func (m *Manager) RecordThrottled(site string, backoff time.Duration) {
	if site == "" {
		return
	}
	s := m.getOrCreate(site)
	s.mu.Lock()
	s.ThrottledCount++
	s.LastThrottled = time.Now()
	s.throttleBackoff = backoff
	s.mu.Unlock()
}

// SuggestedDelay returns how long to wait before loading from site again.
func (m *Manager) SuggestedDelay(site string) time.Duration {
	s := m.Get(site)
	if s == nil {
		return m.MinDelay
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suggestedDelay(m.MinDelay, m.MaxDelay, time.Now())
}

// AllStats returns a copy of every site's stats.
func (m *Manager) AllStats() map[string]SiteStatsJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make(map[string]SiteStatsJSON, len(m.sites))
	for site, s := range m.sites {
		s.mu.RLock()
		var avg int64
		if s.LoadCount > 0 {
			avg = s.totalLatencyMs / s.LoadCount
		}
		challenges := make(map[string]int64, len(s.Challenges))
		for k, v := range s.Challenges {
			challenges[k] = v
		}
		out[site] = SiteStatsJSON{
			LoadCount:        s.LoadCount,
			SuccessCount:     s.SuccessCount,
			ErrorCount:       s.ErrorCount,
			ThrottledCount:   s.ThrottledCount,
			Challenges:       challenges,
			AvgLatencyMs:     avg,
			LastLoadTime:     s.LastLoadTime,
			LastSuccessTime:  s.LastSuccessTime,
			SuggestedDelayMs: s.suggestedDelay(m.MinDelay, m.MaxDelay, now).Milliseconds(),
		}
		s.mu.RUnlock()
	}
	return out
}

// SiteCount returns the number of tracked sites.
func (m *Manager) SiteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sites)
}

// Reset forgets everything recorded for site.
func (m *Manager) Reset(site string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sites, site)
}

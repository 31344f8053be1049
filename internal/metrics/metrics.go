// Package metrics provides Prometheus metrics for monitoring the crawler and
// its captcha resolution.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CaptchaResolutions counts resolve calls by captcha kind, strategy and outcome.
	CaptchaResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flathunter_captcha_resolutions_total",
			Help: "Total captcha resolutions by kind, strategy and outcome",
		},
		[]string{"kind", "strategy", "outcome"},
	)

	// CaptchaSolveDuration tracks time spent waiting on a solving backend.
	CaptchaSolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flathunter_captcha_solve_duration_seconds",
			Help:    "Solving backend round-trip in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~256s
		},
		[]string{"provider", "kind"},
	)

	// CaptchaSolverBalance shows the last known account balance per provider.
	CaptchaSolverBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flathunter_captcha_solver_balance",
			Help: "Last known solving backend account balance",
		},
		[]string{"provider"},
	)

	// PageLoads counts crawler page loads by site and status.
	PageLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flathunter_page_loads_total",
			Help: "Total page loads by site and status",
		},
		[]string{"site", "status"},
	)

	// PageLoadDuration tracks full page load time including challenge handling.
	PageLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flathunter_page_load_duration_seconds",
			Help:    "Page load duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
		[]string{"site"},
	)

	// ChallengesSeen counts challenge pages detected by type.
	ChallengesSeen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flathunter_challenges_seen_total",
			Help: "Total challenge pages detected by type",
		},
		[]string{"type"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flathunter_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flathunter_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flathunter_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		CaptchaResolutions,
		CaptchaSolveDuration,
		CaptchaSolverBalance,
		PageLoads,
		PageLoadDuration,
		ChallengesSeen,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates memory metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordResolution records the final outcome of a strategy resolve call.
func RecordResolution(kind, strategy, outcome string) {
	CaptchaResolutions.WithLabelValues(kind, strategy, outcome).Inc()
}

// RecordSolve records one backend round-trip.
func RecordSolve(provider, kind string, duration time.Duration) {
	CaptchaSolveDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}

// SetSolverBalance records the last balance a backend reported.
func SetSolverBalance(provider string, balance float64) {
	CaptchaSolverBalance.WithLabelValues(provider).Set(balance)
}

// RecordPageLoad records a crawler page load.
func RecordPageLoad(site, status string, duration time.Duration) {
	PageLoads.WithLabelValues(site, status).Inc()
	PageLoadDuration.WithLabelValues(site).Observe(duration.Seconds())
}

// RecordChallenge records a detected challenge page.
func RecordChallenge(challengeType string) {
	ChallengesSeen.WithLabelValues(challengeType).Inc()
}

// Package config provides application configuration management.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxCrawlParallel      = 8
	maxPageLoadAttempts   = 10
	maxCaptchaAttempts    = 10
	maxPageLoadTimeout    = 10 * time.Minute
	minSolverTimeout      = 30 * time.Second
	maxSolverTimeout      = 300 * time.Second
	minCrawlInterval      = 30 * time.Second
	maxCaptchaRetryPeriod = 1 * time.Minute
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Browser settings
	Headless         bool
	BrowserPath      string
	BrowserArgs      []string // Extra Chrome flags, "name" or "name=value"
	ProxyURL         string
	IgnoreCertErrors bool
	BlockMedia       bool // Block images, fonts and media on crawled pages

	// Page loading
	PageLoadTimeout  time.Duration
	PageLoadAttempts int

	// CAPTCHA resolution
	CaptchaStrategy        string        // "", "manual" or "commercial"
	CaptchaProvider        string        // "2captcha" or "capsolver"
	TwoCaptchaAPIKey       string        // TWOCAPTCHA_API_KEY
	CapSolverAPIKey        string        // CAPSOLVER_API_KEY
	CaptchaMaxAttempts     int           // Attempts per resolve call
	CaptchaRetryInterval   time.Duration // Pause between attempts
	CaptchaNetworkInterval time.Duration // Pause between backend transport retries
	CaptchaNetworkBudget   time.Duration // Total time spent on transport retries
	CaptchaSolverTimeout   time.Duration // How long a backend may take per task
	CaptchaManualTimeout   time.Duration // How long to wait for a human
	CaptchaBalanceWarn     float64       // Warn when the balance drops below this

	// Selectors settings
	SelectorsPath      string // Path to external selectors.yaml override file
	SelectorsHotReload bool   // Enable file watching for hot-reload of selectors

	// Crawling
	CrawlURLs     []string
	CrawlInterval time.Duration
	CrawlParallel int

	// Logging
	LogLevel string
	LogHTML  bool

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values that are already set. Missing
// files are skipped; with no arguments ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug().Str("path", p).Msg("Loaded environment file")
	}
	return nil
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Browser
		Headless:         getEnvBool("HEADLESS", true),
		BrowserPath:      getEnvString("BROWSER_PATH", ""),
		BrowserArgs:      getEnvStringSlice("BROWSER_ARGS", nil),
		ProxyURL:         getEnvString("PROXY_URL", ""),
		IgnoreCertErrors: getEnvBool("IGNORE_CERT_ERRORS", false),
		BlockMedia:       getEnvBool("BLOCK_MEDIA", false),

		// Page loading
		PageLoadTimeout:  getEnvDuration("PAGE_LOAD_TIMEOUT", 60*time.Second),
		PageLoadAttempts: getEnvInt("PAGE_LOAD_ATTEMPTS", 3),

		// CAPTCHA
		CaptchaStrategy:        strings.ToLower(getEnvString("CAPTCHA_STRATEGY", "")),
		CaptchaProvider:        strings.ToLower(getEnvString("CAPTCHA_PROVIDER", "2captcha")),
		TwoCaptchaAPIKey:       getEnvString("TWOCAPTCHA_API_KEY", ""),
		CapSolverAPIKey:        getEnvString("CAPSOLVER_API_KEY", ""),
		CaptchaMaxAttempts:     getEnvInt("CAPTCHA_MAX_ATTEMPTS", 3),
		CaptchaRetryInterval:   getEnvDuration("CAPTCHA_RETRY_INTERVAL", 1*time.Second),
		CaptchaNetworkInterval: getEnvDuration("CAPTCHA_NETWORK_INTERVAL", 1*time.Second),
		CaptchaNetworkBudget:   getEnvDuration("CAPTCHA_NETWORK_BUDGET", 100*time.Second),
		CaptchaSolverTimeout:   getEnvDuration("CAPTCHA_SOLVER_TIMEOUT", 120*time.Second),
		CaptchaManualTimeout:   getEnvDuration("CAPTCHA_MANUAL_TIMEOUT", 10*time.Hour),
		CaptchaBalanceWarn:     getEnvFloat("CAPTCHA_BALANCE_WARN", 1.0),

		// Selectors
		SelectorsPath:      getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("SELECTORS_HOT_RELOAD", false),

		// Crawling
		CrawlURLs:     getEnvStringSlice("CRAWL_URLS", nil),
		CrawlInterval: getEnvDuration("CRAWL_INTERVAL", 10*time.Minute),
		CrawlParallel: getEnvInt("CRAWL_PARALLEL", 1),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogHTML:  getEnvBool("LOG_HTML", false),

		// Metrics - disabled by default, localhost only when enabled
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsAddr:    getEnvString("METRICS_ADDR", "127.0.0.1:9090"),
	}
}

// HasProxy returns true if a proxy is configured.
func (c *Config) HasProxy() bool {
	return c.ProxyURL != ""
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().
			Str("path", c.BrowserPath).
			Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	if c.ProxyURL != "" {
		if u, err := url.Parse(c.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			log.Warn().Msg("PROXY_URL is not a valid URL, ignoring")
			c.ProxyURL = ""
		}
	}

	if c.PageLoadTimeout > maxPageLoadTimeout {
		log.Warn().
			Dur("timeout", c.PageLoadTimeout).
			Dur("max", maxPageLoadTimeout).
			Msg("PAGE_LOAD_TIMEOUT too high, capping to maximum")
		c.PageLoadTimeout = maxPageLoadTimeout
	}
	c.PageLoadAttempts = clampInt("PAGE_LOAD_ATTEMPTS", c.PageLoadAttempts, 1, maxPageLoadAttempts)

	if c.CrawlInterval < minCrawlInterval {
		log.Warn().
			Dur("interval", c.CrawlInterval).
			Dur("min", minCrawlInterval).
			Msg("CRAWL_INTERVAL too short, using minimum")
		c.CrawlInterval = minCrawlInterval
	}
	c.CrawlParallel = clampInt("CRAWL_PARALLEL", c.CrawlParallel, 1, maxCrawlParallel)

	for _, raw := range c.CrawlURLs {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			log.Warn().Str("url", raw).Msg("CRAWL_URLS entry is not an http(s) URL")
		}
	}

	c.validateCaptchaConfig()
}

func (c *Config) validateCaptchaConfig() {
	switch c.CaptchaStrategy {
	case "", "manual", "commercial":
	default:
		log.Warn().
			Str("strategy", c.CaptchaStrategy).
			Msg("Invalid CAPTCHA_STRATEGY, captcha resolution disabled")
		c.CaptchaStrategy = ""
	}

	switch c.CaptchaProvider {
	case "2captcha", "capsolver":
	case "twocaptcha":
		c.CaptchaProvider = "2captcha"
	default:
		log.Warn().
			Str("provider", c.CaptchaProvider).
			Msg("Invalid CAPTCHA_PROVIDER, using '2captcha'")
		c.CaptchaProvider = "2captcha"
	}

	c.CaptchaMaxAttempts = clampInt("CAPTCHA_MAX_ATTEMPTS", c.CaptchaMaxAttempts, 1, maxCaptchaAttempts)

	if c.CaptchaRetryInterval > maxCaptchaRetryPeriod {
		log.Warn().
			Dur("interval", c.CaptchaRetryInterval).
			Msg("CAPTCHA_RETRY_INTERVAL too long, using maximum")
		c.CaptchaRetryInterval = maxCaptchaRetryPeriod
	}
	if c.CaptchaNetworkInterval > c.CaptchaNetworkBudget {
		log.Warn().
			Dur("interval", c.CaptchaNetworkInterval).
			Dur("budget", c.CaptchaNetworkBudget).
			Msg("CAPTCHA_NETWORK_INTERVAL exceeds budget, adjusting to budget")
		c.CaptchaNetworkInterval = c.CaptchaNetworkBudget
	}

	if c.CaptchaSolverTimeout < minSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaSolverTimeout).
			Dur("min", minSolverTimeout).
			Msg("CAPTCHA_SOLVER_TIMEOUT too short, using minimum")
		c.CaptchaSolverTimeout = minSolverTimeout
	} else if c.CaptchaSolverTimeout > maxSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaSolverTimeout).
			Dur("max", maxSolverTimeout).
			Msg("CAPTCHA_SOLVER_TIMEOUT too long, using maximum")
		c.CaptchaSolverTimeout = maxSolverTimeout
	}

	if c.CaptchaBalanceWarn < 0 {
		c.CaptchaBalanceWarn = 0
	}

	if c.CaptchaStrategy == "commercial" && c.SolverAPIKey() == "" {
		log.Warn().
			Str("provider", c.CaptchaProvider).
			Msg("CAPTCHA_STRATEGY is commercial but the provider has no API key configured")
	}
}

// SolverAPIKey returns the API key for the configured provider.
func (c *Config) SolverAPIKey() string {
	if c.CaptchaProvider == "capsolver" {
		return c.CapSolverAPIKey
	}
	return c.TwoCaptchaAPIKey
}

func clampInt(key string, v, lo, hi int) int {
	switch {
	case v < lo:
		log.Warn().Str("key", key).Int("value", v).Int("min", lo).Msg("Value too low, using minimum")
		return lo
	case v > hi:
		log.Warn().Str("key", key).Int("value", v).Int("max", hi).Msg("Value too high, capping to maximum")
		return hi
	}
	return v
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid number in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

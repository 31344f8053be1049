// Package main provides the flathunter command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/flathunter-go/internal/config"
	"github.com/Rorqualx/flathunter-go/pkg/version"
)

// Flags shared across subcommands.
var (
	flagEnvFile  string
	flagLogLevel string
	flagStrategy string
	flagProvider string
	flagHeadless bool
	flagParallel int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flathunter",
		Short: "Crawl listing sites through a real browser, solving captchas on the way",
		Long: `flathunter loads listing pages in a stealth Chrome, waits out bot checks
and clears GeeTest and reCAPTCHA challenges either by waiting for a human
or by handing them to a commercial solving service.`,
		SilenceUsage: true,
		Version:      version.Full(),
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEnvFile, "env-file", ".env", "environment file to load before reading configuration")
	pf.StringVar(&flagLogLevel, "log-level", "", "override LOG_LEVEL: trace, debug, info, warn, error")
	pf.StringVar(&flagStrategy, "strategy", "", "override CAPTCHA_STRATEGY: manual, commercial")
	pf.StringVar(&flagProvider, "provider", "", "override CAPTCHA_PROVIDER: 2captcha, capsolver")
	pf.BoolVar(&flagHeadless, "headless", true, "override HEADLESS")
	pf.IntVarP(&flagParallel, "parallel", "p", 0, "override CRAWL_PARALLEL")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBalanceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the env file and environment, applies flag overrides,
// sets up logging and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(flagEnvFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", flagEnvFile, err)
	}
	cfg := config.Load()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("strategy") {
		cfg.CaptchaStrategy = flagStrategy
	}
	if flags.Changed("provider") {
		cfg.CaptchaProvider = flagProvider
	}
	if flags.Changed("headless") {
		cfg.Headless = flagHeadless
	}
	if flags.Changed("parallel") {
		cfg.CrawlParallel = flagParallel
	}

	// Logging first so validation warnings are visible.
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	log.Debug().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting flathunter")
	return cfg, nil
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

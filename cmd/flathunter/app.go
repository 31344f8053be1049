package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/browser"
	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/config"
	"github.com/Rorqualx/flathunter-go/internal/crawler"
	"github.com/Rorqualx/flathunter-go/internal/metrics"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
	"github.com/Rorqualx/flathunter-go/pkg/version"
)

// app holds the long-lived components a command needs.
type app struct {
	cfg       *config.Config
	selectors *selectors.Manager
	solveMet  *captcha.Metrics
	solver    captcha.CommercialSolver
	strategy  captcha.Strategy
	pool      *browser.Pool
	loader    *crawler.Loader

	metricsServer *http.Server
	stopCh        chan struct{}
}

// newApp wires selectors, captcha resolution, the browser pool and the
// page loader. poolSize bounds the number of browsers launched.
func newApp(ctx context.Context, cfg *config.Config, poolSize int) (*app, error) {
	a := &app{
		cfg:      cfg,
		solveMet: captcha.NewMetrics(),
		stopCh:   make(chan struct{}),
	}

	sel, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		return nil, err
	}
	a.selectors = sel

	a.startMetrics()

	a.solver, a.strategy, err = buildStrategy(cfg, sel, a.solveMet)
	if err != nil {
		a.Close()
		return nil, err
	}

	loader, err := crawler.NewLoader(crawler.LoaderOptions{
		Strategy:         a.strategy,
		Selectors:        sel,
		PageLoadTimeout:  cfg.PageLoadTimeout,
		PageLoadAttempts: uint(cfg.PageLoadAttempts),
		LogHTML:          cfg.LogHTML,
	})
	if err != nil {
		log.Info().Err(err).Msg("Disabling crawler because captcha strategy is not declared")
		a.Close()
		return nil, err
	}
	a.loader = loader

	pcfg := *cfg
	pcfg.CrawlParallel = max(1, min(poolSize, cfg.CrawlParallel))
	pool, err := browser.NewPool(ctx, &pcfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pool = pool

	return a, nil
}

// buildStrategy turns the configuration into a solver (commercial only) and
// a strategy. An undeclared strategy yields a nil strategy and no error.
func buildStrategy(cfg *config.Config, sel captcha.SelectorSource, m *captcha.Metrics) (captcha.CommercialSolver, captcha.Strategy, error) {
	kind, err := captcha.ParseStrategyKind(cfg.CaptchaStrategy)
	if err != nil {
		return nil, nil, err
	}

	var solver captcha.CommercialSolver
	if kind == captcha.KindCommercial {
		if solver, err = buildSolver(cfg); err != nil {
			return nil, nil, err
		}
	}

	strategy, err := captcha.NewStrategy(kind, solver, captcha.Options{
		Selectors:     sel,
		Metrics:       m,
		ManualTimeout: cfg.CaptchaManualTimeout,
		MaxAttempts:   uint(cfg.CaptchaMaxAttempts),
		RetryInterval: cfg.CaptchaRetryInterval,
	})
	if errors.Is(err, types.ErrCaptchaNotConfigured) && kind == captcha.KindNone {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("strategy", strategy.Name()).
		Str("provider", cfg.CaptchaProvider).
		Msg("Captcha resolution enabled")
	return solver, strategy, nil
}

func buildSolver(cfg *config.Config) (captcha.CommercialSolver, error) {
	return captcha.NewSolver(captcha.SolverConfig{
		Provider:         cfg.CaptchaProvider,
		TwoCaptchaAPIKey: cfg.TwoCaptchaAPIKey,
		CapSolverAPIKey:  cfg.CapSolverAPIKey,
		Timeout:          cfg.CaptchaSolverTimeout,
		Retry: captcha.NetworkRetry{
			Interval: cfg.CaptchaNetworkInterval,
			Budget:   cfg.CaptchaNetworkBudget,
		},
	})
}

func (a *app) startMetrics() {
	if !a.cfg.MetricsEnabled {
		return
	}
	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	go metrics.StartMemoryCollector(10*time.Second, a.stopCh)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsServer = &http.Server{
		Addr:         a.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", a.cfg.MetricsAddr).Msg("Prometheus metrics server started")
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (a *app) runner(urls []string, interval time.Duration) (*crawler.Runner, error) {
	return crawler.NewRunner(a.loader, crawler.PoolTabs(a.pool), crawler.RunnerOptions{
		URLs:         urls,
		Parallel:     a.pool.Size(),
		Interval:     interval,
		Solver:       a.solver,
		BalanceWarn:  a.cfg.CaptchaBalanceWarn,
		SolveMetrics: a.solveMet,
	})
}

// Close shuts everything down in reverse order of construction.
func (a *app) Close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			log.Error().Err(err).Msg("Browser pool close error")
		}
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
		cancel()
	}
	close(a.stopCh)
	if a.selectors != nil {
		if err := a.selectors.Close(); err != nil {
			log.Warn().Err(err).Msg("Selectors manager close error")
		}
	}
}

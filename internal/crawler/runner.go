package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/flathunter-go/internal/browser"
	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/humanize"
	"github.com/Rorqualx/flathunter-go/internal/security"
	"github.com/Rorqualx/flathunter-go/internal/stats"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// TabOpener hands out a tab and the func that gives it back.
type TabOpener func(ctx context.Context) (Tab, func(), error)

// PoolTabs opens tabs on browsers borrowed from pool.
func PoolTabs(pool *browser.Pool) TabOpener {
	return func(ctx context.Context) (Tab, func(), error) {
		inst, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		page, err := inst.NewPage(ctx)
		if err != nil {
			pool.Release(inst)
			return nil, nil, err
		}
		return page, func() {
			if err := page.Close(); err != nil {
				log.Debug().Err(err).Msg("Failed to close tab")
			}
			pool.Release(inst)
		}, nil
	}
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	URLs     []string
	Parallel int
	Interval time.Duration

	// Solver, when set, has its balance checked before each cycle.
	Solver       captcha.CommercialSolver
	BalanceWarn  float64
	SolveMetrics *captcha.Metrics
}

// Runner crawls a fixed set of URLs, in parallel, once or on an interval.
type Runner struct {
	loader *Loader
	open   TabOpener
	opts   RunnerOptions
}

// Outcome is the result of crawling one URL in a cycle.
type Outcome struct {
	URL    string
	Result *Result
	Err    error
}

// NewRunner validates the URL list and builds a Runner.
func NewRunner(loader *Loader, open TabOpener, opts RunnerOptions) (*Runner, error) {
	if len(opts.URLs) == 0 {
		return nil, errors.New("no urls to crawl")
	}
	for _, u := range opts.URLs {
		if err := security.ValidateCrawlURL(u); err != nil {
			return nil, fmt.Errorf("crawl url %q: %w", security.RedactURL(u), err)
		}
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{loader: loader, open: open, opts: opts}, nil
}

// RunOnce crawls every URL once. Per-URL failures are reported in the
// outcomes; an empty captcha balance aborts the cycle and is returned.
func (r *Runner) RunOnce(ctx context.Context) ([]Outcome, error) {
	if r.opts.Solver != nil {
		if _, err := captcha.CheckBalance(ctx, r.opts.Solver, r.opts.BalanceWarn, r.opts.SolveMetrics); err != nil {
			if errors.Is(err, types.ErrCaptchaBalanceEmpty) {
				return nil, err
			}
			log.Warn().Err(err).Msg("Failed to check captcha balance, crawling anyway")
		}
	}

	outcomes := make([]Outcome, len(r.opts.URLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)

	// Loads of the same site are serialised so its suggested delay holds.
	var siteLocks sync.Map

	for i, u := range r.opts.URLs {
		g.Go(func() error {
			site := stats.ExtractSite(u)
			mu, _ := siteLocks.LoadOrStore(site, &sync.Mutex{})
			mu.(*sync.Mutex).Lock()
			defer mu.(*sync.Mutex).Unlock()

			if delay := r.loader.Stats().SuggestedDelay(site); delay > 0 {
				log.Debug().Str("site", site).Dur("delay", delay).Msg("Waiting before next load")
				if !humanize.SleepWithContext(gctx, delay) {
					return gctx.Err()
				}
			}

			res, err := r.crawl(gctx, u)
			outcomes[i] = Outcome{URL: u, Result: res, Err: err}
			if errors.Is(err, types.ErrCaptchaBalanceEmpty) {
				// No later load can succeed either.
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (r *Runner) crawl(ctx context.Context, url string) (*Result, error) {
	tab, release, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	defer release()
	return r.loader.Load(ctx, tab, url)
}

// Run repeats RunOnce every Interval until ctx is done or the captcha
// balance runs out.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.opts.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	for cycle := 1; ; cycle++ {
		start := time.Now()
		outcomes, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		ev := log.Info().
			Int("cycle", cycle).
			Int("urls", len(outcomes)).
			Int("failed", failed).
			Dur("elapsed", time.Since(start)).
			Interface("sites", r.loader.Stats().AllStats())
		if r.opts.SolveMetrics != nil {
			ev = ev.Interface("solvers", r.opts.SolveMetrics.Snapshot())
		}
		ev.Msg("Crawl cycle finished")

		if !humanize.SleepWithContext(ctx, interval) {
			return nil
		}
	}
}

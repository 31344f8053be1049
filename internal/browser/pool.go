package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/flathunter-go/internal/config"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// Instance is a pooled browser.
type Instance interface {
	NewPage(ctx context.Context) (*Page, error)
	Healthy() bool
	Close() error
}

// LaunchFunc starts a new browser instance.
type LaunchFunc func(ctx context.Context) (Instance, error)

// Pool keeps a fixed set of warm browsers so every crawl does not pay the
// Chrome start-up cost. Unhealthy browsers are replaced on Acquire.
//
// Lock ordering: mu guards the channel close against Release sends and the
// instance list. It is never held while talking to a browser.
type Pool struct {
	mu        sync.Mutex
	instances []Instance
	available chan Instance
	launch    LaunchFunc
	closed    atomic.Bool

	availableCount atomic.Int32
	stats          PoolStats
}

// PoolStats counts pool activity.
type PoolStats struct {
	Acquired atomic.Int64
	Released atomic.Int64
	Recycled atomic.Int64
	Errors   atomic.Int64
}

// PoolStatsSnapshot is a point-in-time copy of PoolStats.
type PoolStatsSnapshot struct {
	Acquired int64
	Released int64
	Recycled int64
	Errors   int64
}

// NewPool launches cfg.CrawlParallel browsers.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	log.Info().
		Int("pool_size", cfg.CrawlParallel).
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Initializing browser pool")

	return NewPoolWithLauncher(ctx, cfg.CrawlParallel, func(ctx context.Context) (Instance, error) {
		return Launch(ctx, cfg)
	})
}

// NewPoolWithLauncher pre-warms size instances from launch. If any launch
// fails the instances started so far are closed.
func NewPoolWithLauncher(ctx context.Context, size int, launch LaunchFunc) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		instances: make([]Instance, 0, size),
		available: make(chan Instance, size),
		launch:    launch,
	}

	for i := 0; i < size; i++ {
		inst, err := launch(ctx)
		if err != nil {
			log.Error().Err(err).Int("browser_index", i).Msg("Failed to spawn browser during pool initialization")
			if closeErr := p.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
			}
			return nil, fmt.Errorf("failed to spawn browser %d: %w", i, err)
		}
		p.instances = append(p.instances, inst)
		p.available <- inst
		p.availableCount.Add(1)
	}

	log.Info().Int("pool_size", size).Msg("Browser pool initialized")
	return p, nil
}

// Acquire takes a healthy browser, waiting until one is released or ctx
// is done. Callers must hand it back with Release.
func (p *Pool) Acquire(ctx context.Context) (Instance, error) {
	if p.closed.Load() {
		return nil, types.ErrBrowserPoolClosed
	}

	select {
	case inst, ok := <-p.available:
		if !ok || p.closed.Load() {
			if inst != nil {
				_ = inst.Close()
			}
			return nil, types.ErrBrowserPoolClosed
		}
		p.availableCount.Add(-1)
		p.stats.Acquired.Add(1)

		if inst.Healthy() {
			return inst, nil
		}
		log.Warn().Msg("Acquired unhealthy browser, recycling")
		return p.recycle(ctx, inst)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recycle replaces old with a fresh instance owned by the caller.
func (p *Pool) recycle(ctx context.Context, old Instance) (Instance, error) {
	p.stats.Recycled.Add(1)
	if err := old.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing unhealthy browser")
	}

	fresh, err := p.launch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, inst := range p.instances {
		if inst != old {
			continue
		}
		if err != nil {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
		} else {
			p.instances[i] = fresh
		}
		break
	}

	if err != nil {
		p.stats.Errors.Add(1)
		log.Error().Err(err).Int("pool_size", len(p.instances)).Msg("Failed to replace browser, pool shrinks")
		return nil, fmt.Errorf("failed to replace unhealthy browser: %w", err)
	}
	if p.closed.Load() {
		_ = fresh.Close()
		return nil, types.ErrBrowserPoolClosed
	}
	return fresh, nil
}

// Release returns inst to the pool. A nil inst is ignored. After Close the
// instance is shut down instead.
func (p *Pool) Release(inst Instance) {
	if inst == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		if err := inst.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser during release (pool closed)")
		}
		return
	}

	p.stats.Released.Add(1)
	select {
	case p.available <- inst:
		p.availableCount.Add(1)
	default:
		log.Warn().Msg("Pool is full, closing excess browser")
		if err := inst.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing excess browser")
		}
	}
}

// Size returns the number of browsers the pool owns.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// Available returns the number of idle browsers.
func (p *Pool) Available() int {
	if p.closed.Load() {
		return 0
	}
	return int(p.availableCount.Load())
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired: p.stats.Acquired.Load(),
		Released: p.stats.Released.Load(),
		Recycled: p.stats.Recycled.Load(),
		Errors:   p.stats.Errors.Load(),
	}
}

// Close shuts every browser down. Acquire fails afterwards. Safe to call
// more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.available)
	instances := p.instances
	p.instances = nil
	p.mu.Unlock()

	// Drain so the channel holds no references.
	for range p.available {
	}
	p.availableCount.Store(0)

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, inst := range instances {
		eg.Go(func() error {
			if err := inst.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing browser during pool shutdown")
				return err
			}
			return nil
		})
	}
	err := eg.Wait()

	log.Info().
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int64("total_recycled", p.stats.Recycled.Load()).
		Int64("total_errors", p.stats.Errors.Load()).
		Msg("Browser pool closed")

	return err
}

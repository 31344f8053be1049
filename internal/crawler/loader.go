// Package crawler loads listing pages in a browser tab, getting past bot
// checks and captchas on the way.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/humanize"
	"github.com/Rorqualx/flathunter-go/internal/metrics"
	"github.com/Rorqualx/flathunter-go/internal/ratelimit"
	"github.com/Rorqualx/flathunter-go/internal/security"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/stats"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// Tab is a browser tab the loader drives. *browser.Page satisfies it.
type Tab interface {
	captcha.Session
	Navigate(ctx context.Context, url string) error
}

// Challenge kinds reported in results, stats and metrics.
const (
	ChallengeBotCheck  = "bot_check"
	ChallengeBlocked   = "blocked"
	ChallengeGeeTest   = "geetest"
	ChallengeRecaptcha = "recaptcha"
)

// Result is a loaded page.
type Result struct {
	URL        string
	FinalURL   string
	Title      string
	HTML       string
	Challenges []string
	Throttled  ratelimit.Info
	Duration   time.Duration

	doc *goquery.Document
}

// Document returns the parsed page.
func (r *Result) Document() *goquery.Document {
	return r.doc
}

// LoaderOptions configure a Loader. Zero durations and counts take the
// defaults from DefaultLoaderOptions.
type LoaderOptions struct {
	Strategy  captcha.Strategy
	Selectors captcha.SelectorSource
	Stats     *stats.Manager

	PageLoadTimeout  time.Duration
	PageLoadAttempts uint
	RetryInterval    time.Duration
	// ChallengePause is the wait before re-navigating past a bot check or
	// after clearing a block.
	ChallengePause   time.Duration
	BotCheckAttempts int
	BlockedAttempts  int

	// LogHTML dumps the final page source at debug level.
	LogHTML bool
}

// DefaultLoaderOptions returns the default loader timing.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		PageLoadTimeout:  60 * time.Second,
		PageLoadAttempts: 3,
		RetryInterval:    time.Second,
		ChallengePause:   5 * time.Second,
		BotCheckAttempts: 12,
		BlockedAttempts:  3,
	}
}

// Loader fetches pages through a Tab.
type Loader struct {
	opts LoaderOptions
}

// errPageLoadTimeout marks a navigation that ran out of time. Only these
// are retried.
var errPageLoadTimeout = errors.New("page load timed out")

// NewLoader creates a Loader. Without a strategy the crawler cannot get past
// captchas, so it reports itself disabled with types.ErrCrawlerDisabled.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Strategy == nil {
		return nil, fmt.Errorf("%w: captcha strategy is not declared", types.ErrCrawlerDisabled)
	}

	d := DefaultLoaderOptions()
	if opts.Selectors == nil {
		opts.Selectors = selectors.GetManager()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewManager()
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = d.PageLoadTimeout
	}
	if opts.PageLoadAttempts == 0 {
		opts.PageLoadAttempts = d.PageLoadAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = d.RetryInterval
	}
	if opts.ChallengePause <= 0 {
		opts.ChallengePause = d.ChallengePause
	}
	if opts.BotCheckAttempts <= 0 {
		opts.BotCheckAttempts = d.BotCheckAttempts
	}
	if opts.BlockedAttempts <= 0 {
		opts.BlockedAttempts = d.BlockedAttempts
	}
	return &Loader{opts: opts}, nil
}

// Stats returns the per-site statistics the loader records into.
func (l *Loader) Stats() *stats.Manager {
	return l.opts.Stats
}

// Load navigates tab to url and returns the page once no challenge is left.
// A navigation timeout restarts the whole load, up to PageLoadAttempts times.
func (l *Loader) Load(ctx context.Context, tab Tab, url string) (*Result, error) {
	start := time.Now()
	site := stats.ExtractSite(url)

	log.Debug().Str("url", security.RedactURL(url)).Msg("Loading page")

	attempt := 0
	res, err := backoff.Retry(ctx, func() (*Result, error) {
		attempt++
		res, err := l.loadOnce(ctx, tab, url, site)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, errPageLoadTimeout) && ctx.Err() == nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Uint("max_attempts", l.opts.PageLoadAttempts).
				Str("url", security.RedactURL(url)).
				Msg("Page load timed out, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(l.opts.RetryInterval)),
		backoff.WithMaxTries(l.opts.PageLoadAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}

	elapsed := time.Since(start)
	l.opts.Stats.RecordLoad(site, elapsed, err == nil)
	metrics.RecordPageLoad(site, loadStatus(err), elapsed)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().
			Err(err).
			Str("url", security.RedactURL(url)).
			Dur("elapsed", elapsed).
			Msg("Failed to load page")
		return nil, err
	}

	res.Duration = elapsed
	log.Info().
		Str("url", security.RedactURL(url)).
		Str("title", res.Title).
		Strs("challenges", res.Challenges).
		Dur("elapsed", elapsed).
		Msg("Page loaded")
	return res, nil
}

func (l *Loader) loadOnce(ctx context.Context, tab Tab, url, site string) (*Result, error) {
	sel := l.opts.Selectors.Get()
	res := &Result{URL: url}

	html, err := l.navigate(ctx, tab, url)
	if err != nil {
		return nil, err
	}

	// The bot check interstitial bounces to the captcha page by itself.
	for i := 0; selectors.ContainsAny(html, sel.Markers.BotCheck); i++ {
		if i >= l.opts.BotCheckAttempts {
			return nil, types.NewChallengeTimeoutError(url)
		}
		l.sawChallenge(res, site, ChallengeBotCheck)
		log.Info().
			Dur("wait", l.opts.ChallengePause).
			Msg("Found captcha loading page, waiting for it to load captcha")
		if !humanize.SleepWithContext(ctx, l.opts.ChallengePause) {
			return nil, ctx.Err()
		}
		if html, err = l.navigate(ctx, tab, url); err != nil {
			return nil, err
		}
	}

	for i := 0; selectors.ContainsAny(html, sel.Markers.Blocked); i++ {
		if i >= l.opts.BlockedAttempts {
			return nil, types.NewBlockedError(url, i)
		}
		l.sawChallenge(res, site, ChallengeBlocked)
		if err := l.opts.Strategy.ResolveGeeTest(ctx, tab); err != nil {
			return nil, fmt.Errorf("resolve block on %s: %w", security.RedactURL(url), err)
		}
		if !humanize.SleepWithContext(ctx, l.opts.ChallengePause) {
			return nil, ctx.Err()
		}
		if html, err = l.navigate(ctx, tab, url); err != nil {
			return nil, err
		}
	}

	switch {
	case selectors.ContainsAny(html, sel.Markers.GeeTest):
		l.sawChallenge(res, site, ChallengeGeeTest)
		if err := l.opts.Strategy.ResolveGeeTest(ctx, tab); err != nil {
			return nil, fmt.Errorf("resolve geetest on %s: %w", security.RedactURL(url), err)
		}
	case selectors.ContainsAny(html, sel.Markers.Recaptcha):
		l.sawChallenge(res, site, ChallengeRecaptcha)
		if err := l.opts.Strategy.ResolveRecaptcha(ctx, tab, captcha.RecaptchaOptions{}); err != nil {
			return nil, fmt.Errorf("resolve recaptcha on %s: %w", security.RedactURL(url), err)
		}
	}

	if len(res.Challenges) > 0 {
		if html, err = tab.HTML(ctx); err != nil {
			return nil, err
		}
	}
	return l.finish(ctx, tab, res, site, html)
}

func (l *Loader) finish(ctx context.Context, tab Tab, res *Result, site, html string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	res.doc = doc
	res.HTML = html
	res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if l.opts.LogHTML {
		log.Debug().Str("site", site).Str("html", html).Msg("Page source")
	}

	if res.FinalURL, err = tab.URL(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to read final URL")
		res.FinalURL = res.URL
	}

	if info := ratelimit.Detect(html); info.Detected {
		res.Throttled = info
		l.opts.Stats.RecordThrottled(site, info.Backoff)
		log.Warn().
			Str("site", site).
			Str("code", info.Code).
			Str("category", string(info.Category)).
			Dur("backoff", info.Backoff).
			Msg("Site refused the request")
	}
	return res, nil
}

// navigate loads url with the page load timeout and returns its source.
func (l *Loader) navigate(ctx context.Context, tab Tab, url string) (string, error) {
	navCtx, cancel := context.WithTimeout(ctx, l.opts.PageLoadTimeout)
	defer cancel()

	if err := tab.Navigate(navCtx, url); err != nil {
		if ctx.Err() == nil && (navCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded)) {
			return "", fmt.Errorf("%w: %w", errPageLoadTimeout, err)
		}
		return "", err
	}
	return tab.HTML(ctx)
}

func (l *Loader) sawChallenge(res *Result, site, kind string) {
	res.Challenges = append(res.Challenges, kind)
	l.opts.Stats.RecordChallenge(site, kind)
	metrics.RecordChallenge(kind)
}

func loadStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrChallengeBlocked):
		return "blocked"
	case errors.Is(err, types.ErrChallengeTimeout), errors.Is(err, errPageLoadTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, types.ErrCaptchaBalanceEmpty),
		errors.Is(err, types.ErrCaptchaUnsolvable),
		errors.Is(err, types.ErrCaptchaNetwork),
		errors.Is(err, types.ErrCaptchaParamsNotFound),
		errors.Is(err, types.ErrCaptchaRejected):
		return "captcha_failed"
	default:
		return "error"
	}
}

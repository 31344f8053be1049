package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
)

const (
	listingPage   = `<html><head><title> Wohnungen in Berlin </title></head><body><article class="aditem">2 Zimmer</article></body></html>`
	botCheckPage  = `<html><body>Wir überprüfen schnell, dass du kein Roboter bist</body></html>`
	blockedPage   = `<html><body><h1>Warum haben wir deine Anfrage blockiert?</h1><script>initGeetest({gt: "g", challenge: "c"})</script></body></html>`
	geetestPage   = `<html><body><div id="captcha-box"></div><script>initGeetest({gt: "g", challenge: "c"})</script></body></html>`
	recaptchaPage = `<html><body><div class="g-recaptcha" data-sitekey="k"></div></body></html>`
	throttledPage = `<html><head><title>Fehler</title></head><body>Zu viele Anfragen</body></html>`
)

// fakeTab serves pages in order, one per navigation, repeating the last.
type fakeTab struct {
	mu sync.Mutex

	pages    []string
	navErrs  []error
	current  string
	finalURL string

	navigations int
}

func newFakeTab(pages ...string) *fakeTab {
	return &fakeTab{pages: pages}
}

func (t *fakeTab) Navigate(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigations++
	if len(t.navErrs) > 0 {
		err := t.navErrs[0]
		t.navErrs = t.navErrs[1:]
		if err != nil {
			return err
		}
	}
	if len(t.pages) > 0 {
		t.current = t.pages[0]
		if len(t.pages) > 1 {
			t.pages = t.pages[1:]
		}
	}
	t.finalURL = url
	return ctx.Err()
}

func (t *fakeTab) setHTML(html string) {
	t.mu.Lock()
	t.current = html
	t.mu.Unlock()
}

func (t *fakeTab) HTML(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, nil
}

func (t *fakeTab) URL(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalURL, nil
}

func (t *fakeTab) WaitVisible(context.Context, selectors.Locator, time.Duration) error   { return nil }
func (t *fakeTab) WaitInvisible(context.Context, selectors.Locator, time.Duration) error { return nil }
func (t *fakeTab) Attribute(context.Context, selectors.Locator, string, time.Duration) (string, error) {
	return "", nil
}
func (t *fakeTab) Click(context.Context, selectors.Locator, time.Duration) error      { return nil }
func (t *fakeTab) Exec(context.Context, string) error                                 { return nil }
func (t *fakeTab) Reload(context.Context) error                                       { return nil }
func (t *fakeTab) EnterFrame(context.Context, selectors.Locator, time.Duration) error { return nil }
func (t *fakeTab) LeaveFrame(context.Context) error                                   { return nil }

// fakeStrategy records calls and optionally rewrites the page on success.
type fakeStrategy struct {
	mu sync.Mutex

	err       error
	clearedTo string

	geetestCalls   int
	recaptchaCalls []captcha.RecaptchaOptions
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) ResolveGeeTest(_ context.Context, sess captcha.Session) error {
	s.mu.Lock()
	s.geetestCalls++
	s.mu.Unlock()
	return s.resolve(sess)
}

func (s *fakeStrategy) ResolveRecaptcha(_ context.Context, sess captcha.Session, opts captcha.RecaptchaOptions) error {
	s.mu.Lock()
	s.recaptchaCalls = append(s.recaptchaCalls, opts)
	s.mu.Unlock()
	return s.resolve(sess)
}

func (s *fakeStrategy) resolve(sess captcha.Session) error {
	if s.err != nil {
		return s.err
	}
	if s.clearedTo != "" {
		sess.(interface{ setHTML(string) }).setHTML(s.clearedTo)
	}
	return nil
}

type fakeSolver struct {
	balance float64
	err     error
}

func (f *fakeSolver) Name() string { return "fake" }
func (f *fakeSolver) SolveGeeTest(context.Context, string, string, string) (*captcha.GeeTestResponse, error) {
	return nil, nil
}
func (f *fakeSolver) SolveRecaptcha(context.Context, string, string) (*captcha.RecaptchaResponse, error) {
	return nil, nil
}
func (f *fakeSolver) Balance(context.Context) (float64, error) { return f.balance, f.err }

func fastLoaderOptions(strategy captcha.Strategy) LoaderOptions {
	return LoaderOptions{
		Strategy:         strategy,
		PageLoadTimeout:  time.Second,
		PageLoadAttempts: 3,
		RetryInterval:    time.Millisecond,
		ChallengePause:   time.Millisecond,
		BotCheckAttempts: 2,
		BlockedAttempts:  3,
	}
}

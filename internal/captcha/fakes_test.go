package captcha

import (
	"context"
	"sync"
	"time"

	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// fakeSession records every interaction and answers from canned state.
type fakeSession struct {
	mu sync.Mutex

	html string
	url  string

	visible     map[string]bool // locator value -> visible
	attributes  map[string]string
	invisibleFn func(loc selectors.Locator) error
	enterErr    error
	clickErr    error
	reloadErr   error

	scripts  []string
	reloads  int
	clicks   []string
	frames   []string
	leaves   int
	waitedOn []string
}

func newFakeSession(html string) *fakeSession {
	return &fakeSession{
		html:       html,
		url:        "https://www.example.de/expose/1",
		visible:    map[string]bool{},
		attributes: map[string]string{},
	}
}

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	return f.html, ctx.Err()
}

func (f *fakeSession) URL(ctx context.Context) (string, error) {
	return f.url, ctx.Err()
}

func (f *fakeSession) WaitVisible(ctx context.Context, loc selectors.Locator, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitedOn = append(f.waitedOn, loc.Value)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.visible[loc.Value] {
		return nil
	}
	return types.ErrWaitTimeout
}

func (f *fakeSession) WaitInvisible(ctx context.Context, loc selectors.Locator, _ time.Duration) error {
	f.mu.Lock()
	fn := f.invisibleFn
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if fn != nil {
		return fn(loc)
	}
	return nil
}

func (f *fakeSession) Attribute(_ context.Context, loc selectors.Locator, name string, _ time.Duration) (string, error) {
	v, ok := f.attributes[loc.Value+"@"+name]
	if !ok {
		return "", types.ErrElementNotFound
	}
	return v, nil
}

func (f *fakeSession) Click(_ context.Context, loc selectors.Locator, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, loc.Value)
	return f.clickErr
}

func (f *fakeSession) Exec(_ context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return nil
}

func (f *fakeSession) Reload(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeSession) EnterFrame(_ context.Context, loc selectors.Locator, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enterErr != nil {
		return f.enterErr
	}
	f.frames = append(f.frames, loc.Value)
	return nil
}

func (f *fakeSession) LeaveFrame(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

// fakeSolver returns queued errors before succeeding.
type fakeSolver struct {
	mu sync.Mutex

	geetest   *GeeTestResponse
	recaptcha *RecaptchaResponse
	errs      []error // consumed one per call
	balance   float64
	balErr    error
	delay     time.Duration // per solve call

	geetestCalls   []geetestCall
	recaptchaCalls []recaptchaCall
}

type geetestCall struct {
	GT, Challenge, URL string
}

type recaptchaCall struct {
	SiteKey, URL string
}

func (f *fakeSolver) Name() string { return "fake" }

func (f *fakeSolver) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSolver) SolveGeeTest(_ context.Context, gt, challenge, pageURL string) (*GeeTestResponse, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geetestCalls = append(f.geetestCalls, geetestCall{gt, challenge, pageURL})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.geetest, nil
}

func (f *fakeSolver) SolveRecaptcha(_ context.Context, siteKey, pageURL string) (*RecaptchaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recaptchaCalls = append(f.recaptchaCalls, recaptchaCall{siteKey, pageURL})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.recaptcha, nil
}

func (f *fakeSolver) Balance(_ context.Context) (float64, error) {
	return f.balance, f.balErr
}

// fastOptions keeps strategy pauses short enough for unit tests.
func fastOptions() Options {
	return Options{
		Selectors:      selectors.GetManager(),
		Metrics:        NewMetrics(),
		ManualTimeout:  50 * time.Millisecond,
		MaxAttempts:    3,
		RetryInterval:  time.Millisecond,
		SettleDelay:    time.Millisecond,
		FrameTimeout:   10 * time.Millisecond,
		ConfirmTimeout: 10 * time.Millisecond,
	}
}

const geetestPage = `<html><script>
initGeetest({gt: "g1", challenge: "c1", offline: false, new_captcha: true}, function (obj) {
  obj.onSuccess(function () {
    var result = obj.getValidate();
    solvedCaptcha({
      geetest_challenge: obj.geetest_challenge,
      geetest_validate: obj.geetest_validate,
      geetest_seccode: obj.geetest_seccode,
      data: "abc123"
    });
  });
});
</script><div id="captcha-box"></div></html>`

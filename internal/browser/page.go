package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/flathunter-go/internal/captcha"
	"github.com/Rorqualx/flathunter-go/internal/humanize"
	"github.com/Rorqualx/flathunter-go/internal/selectors"
	"github.com/Rorqualx/flathunter-go/internal/types"
)

// Page is a browser tab. It satisfies captcha.Session.
//
// A Page is driven by one goroutine at a time. EnterFrame narrows element
// lookups, scripts and HTML to an iframe until LeaveFrame or a navigation.
type Page struct {
	root   *rod.Page
	timing *humanize.Timing

	mu       sync.Mutex
	frames   []*rod.Page
	cleanups []func()
	closed   bool
}

var _ captcha.Session = (*Page)(nil)

func newPage(rp *rod.Page, timing *humanize.Timing) *Page {
	if timing == nil {
		timing = humanize.NewTiming()
	}
	return &Page{root: rp, timing: timing}
}

func (p *Page) onClose(fn func()) {
	p.mu.Lock()
	p.cleanups = append(p.cleanups, fn)
	p.mu.Unlock()
}

// current returns the document lookups run against.
func (p *Page) current() (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, types.ErrSessionClosed
	}
	if n := len(p.frames); n > 0 {
		return p.frames[n-1], nil
	}
	return p.root, nil
}

func (p *Page) top() (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, types.ErrSessionClosed
	}
	return p.root, nil
}

func (p *Page) resetFrames() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// Navigate loads url in the tab and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	rp, err := p.top()
	if err != nil {
		return err
	}
	p.resetFrames()

	rp = rp.Context(ctx)
	if err := rp.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := rp.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("url", url).Msg("WaitLoad failed, continuing anyway")
	}
	return nil
}

// HTML returns the source of the current document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	rp, err := p.current()
	if err != nil {
		return "", err
	}
	html, err := rp.Context(ctx).HTML()
	if err != nil {
		return "", contextOr(ctx, fmt.Errorf("failed to read page source: %w", err))
	}
	return html, nil
}

// URL returns the address of the top-level document.
func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Title returns the title of the top-level document.
func (p *Page) Title(ctx context.Context) (string, error) {
	info, err := p.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *Page) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	rp, err := p.top()
	if err != nil {
		return nil, err
	}
	info, err := rp.Context(ctx).Info()
	if err != nil {
		return nil, contextOr(ctx, fmt.Errorf("failed to read page info: %w", err))
	}
	return info, nil
}

// WaitVisible blocks until loc is present and visible.
func (p *Page) WaitVisible(ctx context.Context, loc selectors.Locator, timeout time.Duration) error {
	rp, err := p.current()
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := find(rp.Context(tctx), loc)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		return waitError(ctx, err, types.ErrWaitTimeout, loc)
	}
	return nil
}

// WaitInvisible polls until loc is hidden or detached.
func (p *Page) WaitInvisible(ctx context.Context, loc selectors.Locator, timeout time.Duration) error {
	rp, err := p.current()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	rp = rp.Context(ctx)

	for {
		has, el, err := probe(rp, loc)
		if err != nil {
			return contextOr(ctx, fmt.Errorf("failed to query %s: %w", loc, err))
		}
		if !has {
			return nil
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			// A node detached between lookup and check is gone.
			return contextOr(ctx, nil)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s still visible after %s", types.ErrWaitTimeout, loc, timeout)
		}
		wait := min(p.timing.PollInterval(), remaining)
		if !humanize.SleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Attribute reads name from the first element matching loc. A missing
// attribute yields an empty string.
func (p *Page) Attribute(ctx context.Context, loc selectors.Locator, name string, timeout time.Duration) (string, error) {
	rp, err := p.current()
	if err != nil {
		return "", err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := find(rp.Context(tctx), loc)
	if err != nil {
		return "", waitError(ctx, err, types.ErrElementNotFound, loc)
	}
	value, err := el.Attribute(name)
	if err != nil {
		return "", contextOr(ctx, fmt.Errorf("failed to read %s of %s: %w", name, loc, err))
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// Click scrolls loc into view and clicks it after a short human pause.
// The pointer travels to a random spot inside the element.
func (p *Page) Click(ctx context.Context, loc selectors.Locator, timeout time.Duration) error {
	rp, err := p.current()
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := find(rp.Context(tctx), loc)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		return waitError(ctx, err, types.ErrElementNotFound, loc)
	}

	if err := el.ScrollIntoView(); err != nil {
		log.Debug().Err(err).Str("locator", loc.String()).Msg("Failed to scroll element into view")
	}
	if !humanize.SleepWithContext(ctx, p.timing.PreActionDelay()) {
		return ctx.Err()
	}
	if err := p.clickElement(ctx, rp, el); err != nil {
		return contextOr(ctx, fmt.Errorf("failed to click %s: %w", loc, err))
	}
	return nil
}

// clickElement moves the mouse onto el along a curved path and clicks it.
// Elements without a layout box fall back to rod's own click.
func (p *Page) clickElement(ctx context.Context, rp *rod.Page, el *rod.Element) error {
	shape, err := el.Shape()
	if err != nil {
		return err
	}
	box := shape.Box()
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}
	m := humanize.NewMouse(rodCursor{rp.Mouse}, humanize.DefaultMouseConfig())
	return m.ClickBox(ctx, box.X, box.Y, box.Width, box.Height)
}

// rodCursor adapts a rod mouse to humanize.Cursor.
type rodCursor struct {
	m *rod.Mouse
}

func (c rodCursor) Position() humanize.Point {
	pt := c.m.Position()
	return humanize.Point{X: pt.X, Y: pt.Y}
}

func (c rodCursor) MoveTo(p humanize.Point) error {
	return c.m.MoveTo(proto.NewPoint(p.X, p.Y))
}

func (c rodCursor) Click() error {
	return c.m.Click(proto.InputMouseButtonLeft, 1)
}

// Exec runs script in the current document. A thrown exception is an error.
func (p *Page) Exec(ctx context.Context, script string) error {
	_, err := p.evaluate(ctx, script, false)
	return err
}

// Eval runs expr and returns its value.
func (p *Page) Eval(ctx context.Context, expr string) (gson.JSON, error) {
	return p.evaluate(ctx, expr, true)
}

func (p *Page) evaluate(ctx context.Context, expr string, byValue bool) (gson.JSON, error) {
	rp, err := p.current()
	if err != nil {
		return gson.JSON{}, err
	}
	res, err := proto.RuntimeEvaluate{
		Expression:    expr,
		ReturnByValue: byValue,
	}.Call(rp.Context(ctx))
	if err != nil {
		return gson.JSON{}, contextOr(ctx, fmt.Errorf("failed to evaluate script: %w", err))
	}
	if res.ExceptionDetails != nil {
		return gson.JSON{}, fmt.Errorf("script raised an exception: %s", exceptionText(res.ExceptionDetails))
	}
	if res.Result == nil {
		return gson.JSON{}, nil
	}
	return res.Result.Value, nil
}

func exceptionText(d *proto.RuntimeExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

// Reload reloads the top-level document. Frame scope is dropped.
func (p *Page) Reload(ctx context.Context) error {
	rp, err := p.top()
	if err != nil {
		return err
	}
	p.resetFrames()

	rp = rp.Context(ctx)
	if err := rp.Reload(); err != nil {
		return contextOr(ctx, fmt.Errorf("failed to reload page: %w", err))
	}
	if err := rp.WaitLoad(); err != nil {
		return contextOr(ctx, fmt.Errorf("failed waiting for reload: %w", err))
	}
	return nil
}

// EnterFrame scopes the page to the iframe matching loc.
func (p *Page) EnterFrame(ctx context.Context, loc selectors.Locator, timeout time.Duration) error {
	rp, err := p.current()
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := find(rp.Context(tctx), loc)
	if err != nil {
		return waitError(ctx, err, types.ErrElementNotFound, loc)
	}
	frame, err := el.Frame()
	if err != nil {
		return contextOr(ctx, fmt.Errorf("failed to enter frame %s: %w", loc, err))
	}

	p.mu.Lock()
	// Strip the lookup deadline from the frame handle.
	p.frames = append(p.frames, frame.Context(context.Background()))
	p.mu.Unlock()
	return nil
}

// LeaveFrame returns to the top-level document.
func (p *Page) LeaveFrame(_ context.Context) error {
	p.resetFrames()
	return nil
}

// Close releases page-level hooks and closes the tab. Safe to call twice.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cleanups := p.cleanups
	p.cleanups = nil
	p.frames = nil
	p.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	return p.root.Close()
}

// find waits for loc using the deadline carried by rp.
func find(rp *rod.Page, loc selectors.Locator) (*rod.Element, error) {
	if loc.Kind == selectors.KindXPath {
		return rp.ElementX(loc.Value)
	}
	return rp.Element(loc.Value)
}

// probe looks loc up once without waiting.
func probe(rp *rod.Page, loc selectors.Locator) (bool, *rod.Element, error) {
	if loc.Kind == selectors.KindXPath {
		return rp.HasX(loc.Value)
	}
	return rp.Has(loc.Value)
}

// waitError maps an expired lookup deadline to sentinel. Cancellation of
// the caller's context wins over both.
func waitError(ctx context.Context, err error, sentinel error, loc selectors.Locator) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", sentinel, loc)
	}
	return fmt.Errorf("%s: %w", loc, err)
}

func contextOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

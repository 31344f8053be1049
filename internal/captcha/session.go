package captcha

import (
	"context"
	"time"

	"github.com/Rorqualx/flathunter-go/internal/selectors"
)

// Session is the live browser page a strategy acts on.
//
// Waits that run out of time return types.ErrWaitTimeout. Lookups of an
// element that never appears return types.ErrElementNotFound. Every method
// returns ctx.Err() once ctx is done.
type Session interface {
	// HTML returns the current page source.
	HTML(ctx context.Context) (string, error)
	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)
	// WaitVisible blocks until loc is present and visible.
	WaitVisible(ctx context.Context, loc selectors.Locator, timeout time.Duration) error
	// WaitInvisible blocks until loc is hidden or gone. An element that is
	// absent from the start counts as invisible.
	WaitInvisible(ctx context.Context, loc selectors.Locator, timeout time.Duration) error
	// Attribute reads an attribute of the first element matching loc.
	Attribute(ctx context.Context, loc selectors.Locator, name string, timeout time.Duration) (string, error)
	// Click clicks the first element matching loc once it is interactable.
	Click(ctx context.Context, loc selectors.Locator, timeout time.Duration) error
	// Exec runs a script in the page.
	Exec(ctx context.Context, script string) error
	// Reload reloads the current page and waits for it to load.
	Reload(ctx context.Context) error
	// EnterFrame moves the session into the iframe matching loc.
	EnterFrame(ctx context.Context, loc selectors.Locator, timeout time.Duration) error
	// LeaveFrame returns the session to the top-level document.
	LeaveFrame(ctx context.Context) error
}

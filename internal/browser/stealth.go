package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

// newStealthPage opens a blank tab with the stealth evasions preloaded, so
// they run before any site script.
func newStealthPage(b *rod.Browser) (*rod.Page, error) {
	return stealth.Page(b)
}

// BlockResources fails requests for images, fonts and media on page. Listing
// pages only need their markup, and skipping the rest shortens loads.
//
// The returned cleanup stops the listener and is safe to call more than once.
func BlockResources(ctx context.Context, page *rod.Page) (cleanup func(), err error) {
	err = proto.FetchEnable{
		Patterns: blockPatterns(),
	}.Call(page)
	if err != nil {
		return func() {}, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var once sync.Once
	cleanup = func() {
		once.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("Timeout waiting for resource blocking listener to stop")
			}
		})
	}

	wait := pageWithCtx.EachEvent(func(e *proto.FetchRequestPaused) {
		_ = proto.FetchFailRequest{
			RequestID:   e.RequestID,
			ErrorReason: proto.NetworkErrorReasonBlockedByClient,
		}.Call(page)
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		wait()
	}()

	return cleanup, nil
}

func blockPatterns() []*proto.FetchRequestPattern {
	return []*proto.FetchRequestPattern{
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeImage},
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeFont},
		{URLPattern: "*", ResourceType: proto.NetworkResourceTypeMedia},
	}
}

// SetViewport sets the page viewport size.
func SetViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

// Package browser launches stealth Chrome instances and exposes their tabs
// as sessions that captcha strategies and crawlers can drive.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/config"
	"github.com/Rorqualx/flathunter-go/internal/humanize"
)

// Browser is one Chrome process.
type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher
	cfg      *config.Config
	proxy    *ProxyConfig
	timing   *humanize.Timing

	closeOnce sync.Once
	closeErr  error
}

// Launch starts Chrome as configured and connects to it over CDP.
func Launch(ctx context.Context, cfg *config.Config) (*Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proxy, err := ParseProxyURL(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	// The launcher context would own the process lifetime, so ctx only
	// gates the start.
	l := createLauncher(cfg, proxy)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if cfg.IgnoreCertErrors {
		log.Warn().Msg("Certificate validation disabled - MITM attacks possible")
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	log.Debug().Str("url", controlURL).Msg("Browser launched")

	return &Browser{
		rod:      b,
		launcher: l,
		cfg:      cfg,
		proxy:    proxy,
		timing:   humanize.NewTiming(),
	}, nil
}

// createLauncher builds the Chrome command line. The flags keep the browser
// from advertising automation and make it usable inside containers.
func createLauncher(cfg *config.Config, proxy *ProxyConfig) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	// Rod enables headless by default. A headed browser under Xvfb is the
	// harder one to fingerprint, so HEADLESS=false must switch it off.
	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if proxy != nil {
		l = l.Set("proxy-server", proxy.URL)
		log.Debug().Str("proxy", proxy.URL).Msg("Browser proxy configured")
	}

	// Keep WebRTC from leaking the real address around the proxy.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	l = l.Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-features", "Translate,TranslateUI,WebRtcHideLocalIpsWithMdns")

	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader")

	if cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	// The target sites are German; keep language and locale consistent.
	l = l.Set("accept-lang", "de-DE,de;q=0.9,en;q=0.8").
		Set("lang", "de-DE")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-sync").
		Set("mute-audio").
		Set("disable-gpu-sandbox")

	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		l = l.Set("disable-gpu-compositing")
	}

	for _, arg := range cfg.BrowserArgs {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	return l
}

// NewPage opens a stealth tab. The caller must Close it.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rp, err := newStealthPage(b.rod)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := SetViewport(rp, 1920, 1080); err != nil {
		log.Debug().Err(err).Msg("Failed to set viewport")
	}

	p := newPage(rp, b.timing)

	switch {
	case b.proxy.NeedsAuth():
		// Auth and resource blocking both claim the Fetch domain.
		cleanup, err := SetPageProxy(context.Background(), rp, b.proxy)
		if err != nil {
			_ = rp.Close()
			return nil, err
		}
		p.onClose(cleanup)
		if b.cfg.BlockMedia {
			log.Warn().Msg("BLOCK_MEDIA is ignored while the proxy requires authentication")
		}
	case b.cfg.BlockMedia:
		cleanup, err := BlockResources(context.Background(), rp)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to enable resource blocking")
		} else {
			p.onClose(cleanup)
		}
	}

	return p, nil
}

// Healthy reports whether the browser still answers CDP calls.
func (b *Browser) Healthy() bool {
	_, err := b.rod.Version()
	return err == nil
}

// Close shuts the browser down and removes its profile directory.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.rod.Close()
		b.launcher.Kill()
		b.launcher.Cleanup()
	})
	return b.closeErr
}

package browser

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ProxyConfig holds the proxy server and its credentials.
type ProxyConfig struct {
	URL      string // scheme://host:port, no credentials
	Username string
	Password string
}

// NeedsAuth reports whether pages must answer proxy auth challenges.
func (p *ProxyConfig) NeedsAuth() bool {
	return p != nil && p.URL != "" && p.Username != ""
}

// ParseProxyURL splits a proxy URL into the server address Chrome accepts
// on its command line and the credentials it does not.
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL: missing scheme or host")
	}

	cfg := &ProxyConfig{URL: u.Scheme + "://" + u.Host}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, nil
}

// RedactProxyURL hides the password of a proxy URL for logging.
func RedactProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[invalid proxy url]"
	}
	return u.Redacted()
}

// SetPageProxy answers proxy authentication challenges for a page.
//
// The proxy server itself must be set at browser launch time. The returned
// cleanup stops the event listeners and must be called when the page closes.
func SetPageProxy(ctx context.Context, page *rod.Page, proxy *ProxyConfig) (cleanup func(), err error) {
	if !proxy.NeedsAuth() {
		return func() {}, nil
	}

	log.Debug().
		Str("proxy_url", proxy.URL).
		Bool("has_credentials", true).
		Msg("Setting up proxy authentication")

	err = proto.FetchEnable{
		HandleAuthRequests: true,
	}.Call(page)
	if err != nil {
		return func() {}, fmt.Errorf("enable fetch for proxy auth: %w", err)
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	go pageWithCtx.EachEvent(func(e *proto.FetchAuthRequired) {
		_ = proto.FetchContinueWithAuth{
			RequestID: e.RequestID,
			AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
				Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
				Username: proxy.Username,
				Password: proxy.Password,
			},
		}.Call(page)
	}, func(e *proto.FetchRequestPaused) {
		// Paused requests without a response status are plain requests.
		if e.ResponseStatusCode == nil {
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
		}
	})()

	return cancel, nil
}

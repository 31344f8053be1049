package security

import (
	"errors"
	"net/url"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrBlockedScheme = errors.New("URL scheme not allowed")
)

// ValidateCrawlURL accepts absolute http(s) URLs only. Other schemes such as
// file: or javascript: would let a config entry drive the browser anywhere.
func ValidateCrawlURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return ErrBlockedScheme
	}
	if parsed.Hostname() == "" {
		return ErrInvalidURL
	}
	return nil
}

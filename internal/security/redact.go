// Package security keeps credentials out of logs and rejects crawl targets
// the browser should never be pointed at.
package security

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveParams are query parameter names that likely carry secrets.
var sensitiveParams = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"clientkey",
	"auth",
	"session",
}

// RedactURL strips credentials and secret-looking query values from a URL
// so it can be logged.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User(redacted)
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for key := range q {
			if isSensitive(key) {
				q[key] = []string{redacted}
			}
		}
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, p := range sensitiveParams {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// TruncateSecret keeps the first n characters of s for log correlation.
func TruncateSecret(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package ratelimit recognises listing pages that were served a throttling
// or access-denied notice instead of results.
package ratelimit

import (
	"regexp"
	"time"
)

// maxBodyLenForRegex bounds the page prefix the patterns run against.
const maxBodyLenForRegex = 100 * 1024

// Category is the broad kind of refusal.
type Category string

const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryAccessDenied Category = "access_denied"
	CategoryGeoBlocked   Category = "geo_blocked"
)

type pattern struct {
	re       *regexp.Regexp
	code     string
	category Category
	backoff  time.Duration
}

// Info describes a detected refusal. The zero value means none was found.
type Info struct {
	Detected bool
	Code     string
	Category Category
	// Backoff is how long to leave the site alone. Zero means waiting
	// will not help.
	Backoff time.Duration
}

// Ordered by specificity; the first match wins.
var patterns = []pattern{
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1015`), "CF_1015", CategoryRateLimit, time.Minute},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1020`), "CF_1020", CategoryAccessDenied, 30 * time.Second},
	{regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1009`), "CF_1009", CategoryGeoBlocked, 0},
	{regexp.MustCompile(`(?i)zu\s{1,5}viele\s{1,5}anfragen`), "ZU_VIELE_ANFRAGEN", CategoryRateLimit, 30 * time.Second},
	{regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`), "TOO_MANY_REQUESTS", CategoryRateLimit, 10 * time.Second},
	{regexp.MustCompile(`(?i)rate\s{0,3}limit(ed)?\s{1,5}exceeded`), "RATE_LIMITED", CategoryRateLimit, 10 * time.Second},
	{regexp.MustCompile(`(?i)zugriff\s{1,5}verweigert`), "ZUGRIFF_VERWEIGERT", CategoryAccessDenied, 15 * time.Second},
	{regexp.MustCompile(`(?i)access\s{1,5}denied`), "ACCESS_DENIED", CategoryAccessDenied, 5 * time.Second},
}

// Detect scans a page body for throttling notices.
func Detect(body string) Info {
	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}
	for _, p := range patterns {
		if p.re.MatchString(body) {
			return Info{
				Detected: true,
				Code:     p.code,
				Category: p.category,
				Backoff:  p.backoff,
			}
		}
	}
	return Info{}
}

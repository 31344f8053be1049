// Package captcha resolves GeeTest and reCAPTCHA challenges on live browser
// pages, either by waiting for a human or by delegating to a paid solving
// service.
package captcha

import "context"

// GeeTestResponse is the triple a solving service returns for a GeeTest
// challenge. All three values are posted back to the page verbatim.
type GeeTestResponse struct {
	Challenge string `json:"geetest_challenge"`
	Validate  string `json:"geetest_validate"`
	SecCode   string `json:"geetest_seccode"`
}

// RecaptchaResponse holds the token a solving service returns for a reCAPTCHA.
type RecaptchaResponse struct {
	Result string `json:"result"`
}

// GeeTestParams are the values scraped from a page that embeds GeeTest.
type GeeTestParams struct {
	GT        string // site identifier
	Challenge string // per-load challenge identifier
	Data      string // opaque payload echoed back to the page callback
}

// CommercialSolver is a paid third-party solving backend.
//
// Implementations report failures through the error taxonomy in
// internal/types: a challenge the backend gave up on matches
// types.ErrCaptchaUnsolvable, an empty account matches
// types.ErrCaptchaBalanceEmpty, and transport failures that outlived the
// backend's retry budget match types.ErrCaptchaNetwork.
type CommercialSolver interface {
	// Name returns the provider name used in logs and metrics.
	Name() string
	SolveGeeTest(ctx context.Context, geetestID, challengeID, pageURL string) (*GeeTestResponse, error)
	SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (*RecaptchaResponse, error)
	// Balance returns the remaining account credit in the provider's currency.
	Balance(ctx context.Context) (float64, error)
}

// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"strconv"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// CAPTCHA resolution errors
	ErrCaptchaUnsolvable     = errors.New("failed to solve captcha")
	ErrCaptchaBalanceEmpty   = errors.New("captcha account balance empty")
	ErrCaptchaNetwork        = errors.New("captcha solver network failure")
	ErrCaptchaParamsNotFound = errors.New("captcha parameters not found in page source")
	ErrCaptchaNotConfigured  = errors.New("captcha solver not configured")
	ErrCaptchaRejected       = errors.New("captcha task was rejected")
	ErrUnknownStrategy       = errors.New("unknown captcha strategy")
	ErrUnknownProvider       = errors.New("unknown captcha provider")

	// Browser session errors
	ErrElementNotFound   = errors.New("element not found")
	ErrWaitTimeout       = errors.New("timed out waiting for element")
	ErrSessionClosed     = errors.New("browser session is closed")
	ErrBrowserPoolClosed = errors.New("browser pool is closed")

	// Challenge errors
	ErrChallengeBlocked = errors.New("page is still blocked by a challenge")
	ErrChallengeTimeout = errors.New("challenge resolution timed out")
	ErrCrawlerDisabled  = errors.New("crawler is disabled")
)

// CaptchaError provides detailed information about CAPTCHA solving failures.
// It implements the error interface and supports error unwrapping.
type CaptchaError struct {
	Provider string // Provider name: "2captcha", "capsolver"
	TaskID   string // Task ID from the provider (for debugging)
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *CaptchaError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptchaError) Unwrap() error {
	return e.Err
}

// NewCaptchaUnsolvableError creates an error for a challenge the provider gave up on.
func NewCaptchaUnsolvableError(provider, code string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     code,
		Message:  "Failed to solve captcha with " + provider + " (" + code + ")",
		Err:      ErrCaptchaUnsolvable,
	}
}

// NewCaptchaBalanceError creates an error for an account without credit.
func NewCaptchaBalanceError(provider string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     "ERROR_ZERO_BALANCE",
		Message:  "Captcha account balance empty at " + provider,
		Err:      ErrCaptchaBalanceEmpty,
	}
}

// NewCaptchaRejectedError creates an error when a CAPTCHA task is rejected.
func NewCaptchaRejectedError(provider, code, reason string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     code,
		Message:  "CAPTCHA task rejected by " + provider + ": " + reason,
		Err:      ErrCaptchaRejected,
	}
}

// NetworkError is a transport-level failure talking to a solver backend.
// It matches both ErrCaptchaNetwork and the underlying cause.
type NetworkError struct {
	Provider string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return e.Provider + " " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the sentinel and the transport error.
func (e *NetworkError) Unwrap() []error {
	return []error{ErrCaptchaNetwork, e.Err}
}

// NewNetworkError wraps a transport failure from a solver backend.
func NewNetworkError(provider, op string, err error) *NetworkError {
	return &NetworkError{Provider: provider, Op: op, Err: err}
}

// ChallengeError provides detailed information about challenge failures.
// It implements the error interface and supports error unwrapping.
type ChallengeError struct {
	Type    string // Error type: "blocked", "timeout"
	URL     string // The URL where the error occurred
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *ChallengeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// NewBlockedError creates an error for a page that stayed blocked after resolution.
func NewBlockedError(url string, attempts int) *ChallengeError {
	return &ChallengeError{
		Type:    "blocked",
		URL:     url,
		Message: "Page is still blocked after " + strconv.Itoa(attempts) + " resolution attempts",
		Err:     ErrChallengeBlocked,
	}
}

// NewChallengeTimeoutError creates an error for a bot check that never finished loading.
func NewChallengeTimeoutError(url string) *ChallengeError {
	return &ChallengeError{
		Type:    "timeout",
		URL:     url,
		Message: "Bot check page did not progress to the captcha within the allowed attempts",
		Err:     ErrChallengeTimeout,
	}
}

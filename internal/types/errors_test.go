package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCaptchaErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      *CaptchaError
		sentinel error
		code     string
	}{
		{"unsolvable", NewCaptchaUnsolvableError("2captcha", "ERROR_CAPTCHA_UNSOLVABLE"), ErrCaptchaUnsolvable, "ERROR_CAPTCHA_UNSOLVABLE"},
		{"balance", NewCaptchaBalanceError("capsolver"), ErrCaptchaBalanceEmpty, "ERROR_ZERO_BALANCE"},
		{"rejected", NewCaptchaRejectedError("capsolver", "ERROR_KEY_DENIED_ACCESS", "bad key"), ErrCaptchaRejected, "ERROR_KEY_DENIED_ACCESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("resolve: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			var ce *CaptchaError
			if !errors.As(wrapped, &ce) {
				t.Fatal("errors.As failed")
			}
			if ce.Code != tt.code {
				t.Errorf("Code = %q, want %q", ce.Code, tt.code)
			}
			if !strings.Contains(ce.Error(), ce.Provider) {
				t.Errorf("message %q does not name provider %q", ce.Error(), ce.Provider)
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("solve: %w", NewNetworkError("2captcha", "getBalance", cause))

	if !errors.Is(err, ErrCaptchaNetwork) {
		t.Error("expected ErrCaptchaNetwork")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the transport cause to stay reachable")
	}
	if errors.Is(err, ErrCaptchaUnsolvable) {
		t.Error("network error must not match ErrCaptchaUnsolvable")
	}
	if got := err.Error(); !strings.Contains(got, "2captcha getBalance: connection refused") {
		t.Errorf("Error() = %q", got)
	}
}

func TestChallengeErrors(t *testing.T) {
	blocked := NewBlockedError("https://a.example", 3)
	if !errors.Is(blocked, ErrChallengeBlocked) {
		t.Error("expected ErrChallengeBlocked")
	}
	if !strings.Contains(blocked.Error(), "3 resolution attempts") {
		t.Errorf("Error() = %q", blocked.Error())
	}
	if blocked.Type != "blocked" || blocked.URL != "https://a.example" {
		t.Errorf("unexpected fields %+v", blocked)
	}

	timeout := NewChallengeTimeoutError("https://a.example")
	if !errors.Is(timeout, ErrChallengeTimeout) {
		t.Error("expected ErrChallengeTimeout")
	}
	if errors.Is(timeout, ErrChallengeBlocked) {
		t.Error("timeout must not match ErrChallengeBlocked")
	}
}

package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

const (
	twoCaptchaDefaultTimeout = 120 * time.Second
	twoCaptchaPollInterval   = 5 * time.Second
)

// twoCaptchaClient is the subset of the 2captcha SDK client used here.
type twoCaptchaClient interface {
	Solve(req api2captcha.Request) (string, string, error)
	GetBalance() (float64, error)
}

// TwoCaptchaSolver implements CommercialSolver on top of the 2captcha SDK.
type TwoCaptchaSolver struct {
	apiKey string
	client twoCaptchaClient
	retry  NetworkRetry
}

// TwoCaptchaConfig contains configuration for the 2captcha backend.
type TwoCaptchaConfig struct {
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	Retry        NetworkRetry
}

// NewTwoCaptchaSolver creates a new 2captcha backend.
func NewTwoCaptchaSolver(cfg TwoCaptchaConfig) *TwoCaptchaSolver {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = twoCaptchaDefaultTimeout
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = twoCaptchaPollInterval
	}

	client := api2captcha.NewClient(cfg.APIKey)
	client.DefaultTimeout = int(timeout.Seconds())
	client.RecaptchaTimeout = int(timeout.Seconds())
	client.PollingInterval = max(1, int(poll.Seconds()))

	return &TwoCaptchaSolver{
		apiKey: cfg.APIKey,
		client: client,
		retry:  cfg.Retry.normalize(),
	}
}

// Name returns the provider name.
func (s *TwoCaptchaSolver) Name() string {
	return "2captcha"
}

// IsConfigured returns true if an API key is set.
func (s *TwoCaptchaSolver) IsConfigured() bool {
	return s.apiKey != ""
}

// twoCaptchaGeeTestCode is the JSON document 2captcha returns for GeeTest.
type twoCaptchaGeeTestCode struct {
	Challenge string `json:"geetest_challenge"`
	Validate  string `json:"geetest_validate"`
	SecCode   string `json:"geetest_seccode"`
}

// SolveGeeTest solves a GeeTest v3 challenge.
func (s *TwoCaptchaSolver) SolveGeeTest(ctx context.Context, geetestID, challengeID, pageURL string) (*GeeTestResponse, error) {
	captcha := api2captcha.GeeTest{
		GT:        geetestID,
		Challenge: challengeID,
		Url:       pageURL,
	}

	code, err := s.solve(ctx, "geetest", captcha.ToRequest())
	if err != nil {
		return nil, err
	}

	var parsed twoCaptchaGeeTestCode
	if err := json.Unmarshal([]byte(code), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse geetest solution: %w", err)
	}
	if parsed.Validate == "" || parsed.SecCode == "" {
		return nil, types.NewCaptchaUnsolvableError(s.Name(), "EMPTY_SOLUTION")
	}

	return &GeeTestResponse{
		Challenge: parsed.Challenge,
		Validate:  parsed.Validate,
		SecCode:   parsed.SecCode,
	}, nil
}

// SolveRecaptcha solves a reCAPTCHA v2 challenge.
func (s *TwoCaptchaSolver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (*RecaptchaResponse, error) {
	captcha := api2captcha.ReCaptcha{
		SiteKey: siteKey,
		Url:     pageURL,
	}

	code, err := s.solve(ctx, "recaptcha", captcha.ToRequest())
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, types.NewCaptchaUnsolvableError(s.Name(), "EMPTY_SOLUTION")
	}
	return &RecaptchaResponse{Result: code}, nil
}

// Balance retrieves the current account balance.
func (s *TwoCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	if !s.IsConfigured() {
		return 0, fmt.Errorf("2captcha: %w", types.ErrCaptchaNotConfigured)
	}
	return retryNetwork(ctx, s.retry, s.Name(), "getBalance", func() (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		balance, err := s.client.GetBalance()
		if err != nil {
			return 0, s.classify("getBalance", "", err)
		}
		return balance, nil
	})
}

// solve submits req through the SDK. The SDK call itself is not
// cancellable, so ctx is only checked between attempts.
func (s *TwoCaptchaSolver) solve(ctx context.Context, kind string, req api2captcha.Request) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("2captcha: %w", types.ErrCaptchaNotConfigured)
	}

	return retryNetwork(ctx, s.retry, s.Name(), "solve", func() (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, id, err := s.client.Solve(req)
		if err != nil {
			return "", s.classify("solve", id, err)
		}
		log.Debug().
			Str("task_id", id).
			Str("kind", kind).
			Msg("2Captcha task solved")
		return code, nil
	})
}

// classify converts SDK errors to the shared error taxonomy. Provider codes
// are only read from API errors.
func (s *TwoCaptchaSolver) classify(op, taskID string, err error) error {
	apiCode := func(code string) bool {
		return errors.Is(err, api2captcha.ErrApi) && strings.Contains(err.Error(), code)
	}

	var cerr *types.CaptchaError
	switch {
	case errors.Is(err, api2captcha.ErrNetwork):
		return types.NewNetworkError(s.Name(), op, err)
	case apiCode("ERROR_ZERO_BALANCE"):
		cerr = types.NewCaptchaBalanceError(s.Name())
	case apiCode("ERROR_CAPTCHA_UNSOLVABLE"):
		cerr = types.NewCaptchaUnsolvableError(s.Name(), "ERROR_CAPTCHA_UNSOLVABLE")
	case errors.Is(err, api2captcha.ErrTimeout):
		cerr = types.NewCaptchaUnsolvableError(s.Name(), "TIMEOUT")
	case apiCode("ERROR_WRONG_USER_KEY"), apiCode("ERROR_KEY_DOES_NOT_EXIST"):
		cerr = types.NewCaptchaRejectedError(s.Name(), "ERROR_KEY_DOES_NOT_EXIST", "invalid API key")
	default:
		cerr = types.NewCaptchaRejectedError(s.Name(), "UNKNOWN", err.Error())
	}
	cerr.TaskID = taskID
	return cerr
}

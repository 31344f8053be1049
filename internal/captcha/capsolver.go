package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/flathunter-go/internal/types"
)

const (
	// CapSolver API endpoints
	capSolverBaseURL    = "https://api.capsolver.com"
	capSolverCreateTask = "/createTask"
	capSolverGetResult  = "/getTaskResult"
	capSolverGetBalance = "/getBalance"

	capSolverPollInterval   = 3 * time.Second
	capSolverDefaultTimeout = 120 * time.Second
)

// CapSolverSolver implements CommercialSolver against the CapSolver task API.
type CapSolverSolver struct {
	apiKey       string
	httpClient   *http.Client
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
	retry        NetworkRetry
}

// CapSolverConfig contains configuration for the CapSolver backend.
type CapSolverConfig struct {
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	Retry        NetworkRetry
	BaseURL      string // Override for testing
}

// NewCapSolverSolver creates a new CapSolver backend.
func NewCapSolverSolver(cfg CapSolverConfig) *CapSolverSolver {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = capSolverDefaultTimeout
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = capSolverPollInterval
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = capSolverBaseURL
	}

	return &CapSolverSolver{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		timeout:      timeout,
		pollInterval: poll,
		retry:        cfg.Retry.normalize(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider name.
func (s *CapSolverSolver) Name() string {
	return "capsolver"
}

// IsConfigured returns true if an API key is set.
func (s *CapSolverSolver) IsConfigured() bool {
	return s.apiKey != ""
}

type capSolverCreateTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      any    `json:"task"`
}

type capSolverGeeTestTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	GT         string `json:"gt"`
	Challenge  string `json:"challenge"`
}

type capSolverRecaptchaTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type capSolverCreateTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	TaskID           string `json:"taskId,omitempty"`
}

type capSolverGetResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type capSolverGetResultResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	ErrorDescription string          `json:"errorDescription,omitempty"`
	Status           string          `json:"status"` // "idle", "processing", "ready" or "failed"
	Solution         json.RawMessage `json:"solution,omitempty"`
}

// capSolverGeeTestSolution is the GeeTest v3 solution shape.
type capSolverGeeTestSolution struct {
	Challenge string `json:"challenge"`
	Validate  string `json:"validate"`
	SecCode   string `json:"seccode"`
}

type capSolverRecaptchaSolution struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
}

type capSolverBalanceResponse struct {
	ErrorID          int     `json:"errorId"`
	ErrorCode        string  `json:"errorCode,omitempty"`
	ErrorDescription string  `json:"errorDescription,omitempty"`
	Balance          float64 `json:"balance"`
}

// apiError is the error envelope every CapSolver response carries.
type apiError interface {
	apiErr() (id int, code, description string)
}

func (r *capSolverCreateTaskResponse) apiErr() (int, string, string) {
	return r.ErrorID, r.ErrorCode, r.ErrorDescription
}

func (r *capSolverGetResultResponse) apiErr() (int, string, string) {
	return r.ErrorID, r.ErrorCode, r.ErrorDescription
}

func (r *capSolverBalanceResponse) apiErr() (int, string, string) {
	return r.ErrorID, r.ErrorCode, r.ErrorDescription
}

// SolveGeeTest solves a GeeTest v3 challenge.
func (s *CapSolverSolver) SolveGeeTest(ctx context.Context, geetestID, challengeID, pageURL string) (*GeeTestResponse, error) {
	task := capSolverGeeTestTask{
		Type:       "GeeTestTaskProxyLess",
		WebsiteURL: pageURL,
		GT:         geetestID,
		Challenge:  challengeID,
	}

	raw, err := s.solve(ctx, "geetest", task)
	if err != nil {
		return nil, err
	}

	var sol capSolverGeeTestSolution
	if err := json.Unmarshal(raw, &sol); err != nil {
		return nil, fmt.Errorf("failed to parse geetest solution: %w", err)
	}
	if sol.Validate == "" || sol.SecCode == "" {
		return nil, types.NewCaptchaUnsolvableError(s.Name(), "EMPTY_SOLUTION")
	}

	return &GeeTestResponse{
		Challenge: sol.Challenge,
		Validate:  sol.Validate,
		SecCode:   sol.SecCode,
	}, nil
}

// SolveRecaptcha solves a reCAPTCHA v2 challenge.
func (s *CapSolverSolver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (*RecaptchaResponse, error) {
	task := capSolverRecaptchaTask{
		Type:       "ReCaptchaV2TaskProxyLess",
		WebsiteURL: pageURL,
		WebsiteKey: siteKey,
	}

	raw, err := s.solve(ctx, "recaptcha", task)
	if err != nil {
		return nil, err
	}

	var sol capSolverRecaptchaSolution
	if err := json.Unmarshal(raw, &sol); err != nil {
		return nil, fmt.Errorf("failed to parse recaptcha solution: %w", err)
	}
	if sol.GRecaptchaResponse == "" {
		return nil, types.NewCaptchaUnsolvableError(s.Name(), "EMPTY_SOLUTION")
	}

	return &RecaptchaResponse{Result: sol.GRecaptchaResponse}, nil
}

// solve creates a task and polls until the backend reports a solution.
func (s *CapSolverSolver) solve(ctx context.Context, kind string, task any) (json.RawMessage, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("capsolver: %w", types.ErrCaptchaNotConfigured)
	}

	var created capSolverCreateTaskResponse
	if err := s.call(ctx, "createTask", capSolverCreateTask, capSolverCreateTaskRequest{
		ClientKey: s.apiKey,
		Task:      task,
	}, &created, ""); err != nil {
		return nil, err
	}

	log.Debug().
		Str("task_id", created.TaskID).
		Str("kind", kind).
		Msg("CapSolver task created")

	return s.pollResult(ctx, created.TaskID)
}

// pollResult polls for the task result until complete or timeout.
func (s *CapSolverSolver) pollResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			err := types.NewCaptchaUnsolvableError(s.Name(), "TIMEOUT")
			err.TaskID = taskID
			return nil, err
		case <-ticker.C:
		}

		var result capSolverGetResultResponse
		if err := s.call(pollCtx, "getTaskResult", capSolverGetResult, capSolverGetResultRequest{
			ClientKey: s.apiKey,
			TaskID:    taskID,
		}, &result, taskID); err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				timeoutErr := types.NewCaptchaUnsolvableError(s.Name(), "TIMEOUT")
				timeoutErr.TaskID = taskID
				return nil, timeoutErr
			}
			return nil, err
		}

		switch result.Status {
		case "ready":
			if len(result.Solution) == 0 {
				return nil, types.NewCaptchaUnsolvableError(s.Name(), "EMPTY_SOLUTION")
			}
			return result.Solution, nil
		case "failed":
			err := types.NewCaptchaUnsolvableError(s.Name(), "TASK_FAILED")
			err.TaskID = taskID
			return nil, err
		default:
			log.Debug().
				Str("task_id", taskID).
				Str("status", result.Status).
				Msg("CapSolver task still processing")
		}
	}
}

// Balance retrieves the current account balance.
func (s *CapSolverSolver) Balance(ctx context.Context) (float64, error) {
	if !s.IsConfigured() {
		return 0, fmt.Errorf("capsolver: %w", types.ErrCaptchaNotConfigured)
	}

	var resp capSolverBalanceResponse
	if err := s.call(ctx, "getBalance", capSolverGetBalance, map[string]string{"clientKey": s.apiKey}, &resp, ""); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// call posts body to path and decodes the reply into out, retrying transport
// failures under the configured network budget.
func (s *CapSolverSolver) call(ctx context.Context, op, path string, body any, out apiError, taskID string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := retryNetwork(ctx, s.retry, s.Name(), op, func() ([]byte, error) {
		return s.post(ctx, op, path, payload)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	if id, code, desc := out.apiErr(); id != 0 {
		return s.handleError(code, desc, taskID)
	}
	return nil
}

func (s *CapSolverSolver) post(ctx context.Context, op, path string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewNetworkError(s.Name(), op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewNetworkError(s.Name(), op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if isAPIErrorReply(resp.StatusCode, respBody) {
			return respBody, nil
		}
		return nil, types.NewNetworkError(s.Name(), op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return respBody, nil
}

// isAPIErrorReply reports whether a 400/401 reply carries a CapSolver error
// payload. Those are answers, not transport failures.
func isAPIErrorReply(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	var reply struct {
		ErrorID int `json:"errorId"`
	}
	return json.Unmarshal(body, &reply) == nil && reply.ErrorID != 0
}

// handleError converts CapSolver error codes to the shared error taxonomy.
func (s *CapSolverSolver) handleError(code, description, taskID string) error {
	var err *types.CaptchaError
	switch code {
	case "ERROR_ZERO_BALANCE", "ERROR_INSUFFICIENT_BALANCE":
		err = types.NewCaptchaBalanceError(s.Name())
	case "ERROR_CAPTCHA_UNSOLVABLE", "ERROR_TASK_TIMEOUT":
		err = types.NewCaptchaUnsolvableError(s.Name(), code)
	case "ERROR_INVALID_TASK_DATA", "ERROR_WRONG_WEBSITEKEY":
		err = types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey or task data")
	case "ERROR_KEY_DENIED", "ERROR_INVALID_CLIENTKEY":
		err = types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	case "ERROR_TASKID_INVALID", "ERROR_TASK_NOT_FOUND":
		err = types.NewCaptchaRejectedError(s.Name(), code, "task not found or expired")
	default:
		msg := description
		if msg == "" {
			msg = code
		}
		err = types.NewCaptchaRejectedError(s.Name(), code, msg)
	}
	err.TaskID = taskID
	return err
}

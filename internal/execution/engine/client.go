package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 8 * time.Second
)

// ClientConfig holds execution engine client settings.
type ClientConfig struct {
	BaseURL string `yaml:"baseURL"`

	// AuthToken is sent as X-Auth-Token when non-empty.
	AuthToken string `yaml:"authToken"`

	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// Client talks to the external execution engine over HTTP. It is safe for
// concurrent use.
type Client struct {
	baseURL      string
	authToken    string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
}

// NewClient creates an engine client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authToken:    cfg.AuthToken,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}, nil
}

// SubmitBatch sends one batch of submissions and returns the engine's
// tracking tokens, one per entry in submission order. Transport failures are
// retried with exponential backoff; a malformed or short token array is a
// contract violation and is not retried.
func (c *Client) SubmitBatch(ctx context.Context, submissions []BatchSubmission) ([]string, error) {
	if len(submissions) == 0 {
		return nil, appErr.New(appErr.ValidationFailed).WithMessage("submission batch is empty")
	}

	body, err := json.Marshal(batchSubmitRequest{Submissions: submissions})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineBadResponse, "encode batch request failed")
	}

	endpoint := c.baseURL + "/submissions/batch?base64_encoded=false"
	payload, err := c.doWithRetry(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var entries []batchSubmitEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineBadResponse, "decode batch response failed")
	}
	if len(entries) != len(submissions) {
		return nil, appErr.Newf(appErr.EngineBadResponse,
			"engine returned %d tokens for %d submissions", len(entries), len(submissions))
	}
	tokens := make([]string, 0, len(entries))
	for i, entry := range entries {
		if entry.Token == "" {
			return nil, appErr.Newf(appErr.EngineBadResponse, "engine returned empty token at index %d", i)
		}
		tokens = append(tokens, entry.Token)
	}
	return tokens, nil
}

// FetchResults queries the current state of every token in one batch call.
// The returned slice preserves token order.
func (c *Client) FetchResults(ctx context.Context, tokens []string) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, appErr.New(appErr.ValidationFailed).WithMessage("token list is empty")
	}

	endpoint := fmt.Sprintf("%s/submissions/batch?tokens=%s&base64_encoded=false",
		c.baseURL, url.QueryEscape(strings.Join(tokens, ",")))
	payload, err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var decoded batchStatusResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, appErr.Wrapf(err, appErr.EngineBadResponse, "decode batch status failed")
	}
	if len(decoded.Submissions) != len(tokens) {
		return nil, appErr.Newf(appErr.EngineBadResponse,
			"engine returned %d results for %d tokens", len(decoded.Submissions), len(tokens))
	}
	return decoded.Submissions, nil
}

// doWithRetry issues one HTTP request, retrying transport errors and engine
// 5xx responses. Any other non-2xx response is a contract violation.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, c.retryBackoff, maxRetryBackoff)
			logger.Warn(ctx, "retrying engine request",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, appErr.Wrapf(ctx.Err(), appErr.EngineUnavailable, "engine request cancelled")
			case <-time.After(delay):
			}
		}

		payload, retryable, err := c.doOnce(ctx, method, endpoint, body)
		if err == nil {
			return payload, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, false, appErr.Wrapf(err, appErr.EngineUnavailable, "build engine request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, appErr.Wrapf(err, appErr.EngineUnavailable, "engine request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, true, appErr.Wrapf(err, appErr.EngineUnavailable, "read engine response failed")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, false, nil
	case resp.StatusCode >= 500:
		return nil, true, appErr.Newf(appErr.EngineUnavailable, "engine returned status %d", resp.StatusCode)
	default:
		return nil, false, appErr.Newf(appErr.EngineBadResponse, "engine returned status %d", resp.StatusCode)
	}
}

// computeBackoff doubles the base delay per retry, capped at max.
func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay >= max {
			return max
		}
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Package httprequest sends the HTTP calls made by actions and provides the
// custom_webhook action.
package httprequest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/inbox/pkg/actions"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 5
	maxDelay       = 30 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrHTTPServerError is returned when the remote keeps answering 5xx.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPClientError is returned for 4xx answers, which are not retried.
	ErrHTTPClientError = errors.New("client error during HTTP request")
)

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// ParseRetryConfig reads {"attempts": n, "delay": ms}.
func ParseRetryConfig(config map[string]any) RetryConfig {
	retry := RetryConfig{Attempts: 1}

	retryMap, ok := config["retry"].(map[string]any)
	if !ok {
		return retry
	}

	retry.Attempts = min(max(actions.ConfigInt(retryMap, "attempts", 1), 1), maxAttempts)
	retry.Delay = min(time.Duration(max(actions.ConfigInt(retryMap, "delay", 0), 0))*time.Millisecond, maxDelay)

	return retry
}

// Request is one outgoing call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the status and body of the final attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client sends requests with retry on transport errors and 5xx answers.
type Client struct {
	HTTP  *http.Client
	Retry RetryConfig
}

func NewClient(httpClient *http.Client, retry RetryConfig) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	return &Client{HTTP: httpClient, Retry: retry}
}

// Do sends req until it succeeds, fails with a 4xx, or runs out of attempts.
func (c *Client) Do(ctx context.Context, req Request, logger *slog.Logger) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "max_attempts", c.Retry.Attempts, "error", lastErr)

			if err := wait(ctx, c.Retry.Delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = err

			continue
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("%w: status %d: %s", ErrHTTPServerError, resp.StatusCode, snippet(resp.Body))
		case resp.StatusCode >= http.StatusBadRequest:
			return resp, fmt.Errorf("%w: status %d: %s", ErrHTTPClientError, resp.StatusCode, snippet(resp.Body))
		default:
			logger.DebugContext(ctx, "HTTP request completed", "status", resp.StatusCode, "attempt", attempt)

			return resp, nil
		}
	}

	return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snippet(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}

	return string(body)
}

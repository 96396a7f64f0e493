package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Delays, when set, replaces exponential backoff: the wait after attempt n
	// is Delays[n-1], with the last entry reused if attempts outnumber it.
	Delays []time.Duration

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Do executes an HTTP request with retry on transport errors, 5xx and 429.
// The buildReq function is called on each attempt to produce a fresh request
// (required because request bodies are consumed on each attempt).
// A Retry-After header in seconds overrides the computed wait.
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && !retryable(resp.StatusCode) {
			return resp, nil
		}

		wait := cfg.waitAfter(attempt, delay)
		if err != nil {
			lastErr = err
		} else {
			if ra, ok := retryAfter(resp); ok {
				wait = ra
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

// Wait returns how long to pause after the given failed attempt. Callers that
// detect a retryable condition inside a 200 response use it to share the
// same schedule as Do.
func (c RetryConfig) Wait(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	return c.waitAfter(attempt, delay)
}

func (c RetryConfig) waitAfter(attempt int, backoff time.Duration) time.Duration {
	if len(c.Delays) == 0 {
		return backoff
	}
	if attempt-1 < len(c.Delays) {
		return c.Delays[attempt-1]
	}
	return c.Delays[len(c.Delays)-1]
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Package httpclient provides the bounded-retry HTTP executor used for
// outbound provider calls.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrRetryableStatus wraps the last transient status when a retry is scheduled.
var ErrRetryableStatus = errors.New("httpclient: server returned retryable status")

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Policy bounds the retry loop.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy is three retries starting at one second, capped at thirty.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
}

// RetryClient retries transport errors and 500, 502, 503 and 504 responses
// with capped exponential backoff. It never retries 429 or any other 4xx.
type RetryClient struct {
	client HTTPDoer
	policy Policy
	logger *slog.Logger
}

// NewRetryClient wraps client. A nil client means an *http.Client with a
// thirty second timeout.
func NewRetryClient(client HTTPDoer, policy Policy, logger *slog.Logger) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy.BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryClient{client: client, policy: policy, logger: logger}
}

func (rc *RetryClient) backoff() retry.Backoff {
	b := retry.NewExponential(rc.policy.BaseDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(rc.policy.MaxDelay, b)
	return retry.WithMaxRetries(rc.policy.MaxRetries, b)
}

// Do executes req, replaying the body through req.GetBody between attempts.
// When the final attempt still gets a transient status the response is
// returned as is so the caller can read the body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt uint64
	)

	err := retry.Do(req.Context(), rc.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if err := resetBody(req); err != nil {
				return err
			}
			rc.logger.DebugContext(ctx, "retrying request",
				"attempt", attempt,
				"max_retries", rc.policy.MaxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
			)
		}

		r, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}

		if IsRetryableStatus(r.StatusCode) && attempt <= rc.policy.MaxRetries {
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			return retry.RetryableError(fmt.Errorf("%w %d", ErrRetryableStatus, r.StatusCode))
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func resetBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("httpclient: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpclient: reset request body: %w", err)
	}
	req.Body = body
	return nil
}

// IsRetryableStatus reports whether a status is a transient server error.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

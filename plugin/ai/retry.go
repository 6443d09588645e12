package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrorClass represents the category of error for retry decisions.
type ErrorClass int

const (
	// ErrorClassTransient indicates a temporary error that should be retried.
	// Examples: network timeout, rate limiting, upstream 5xx
	ErrorClassTransient ErrorClass = iota

	// ErrorClassPermanent indicates a non-retryable error.
	// Examples: bad API key, invalid request, unknown model
	ErrorClassPermanent
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Class      ErrorClass
	Original   error
	RetryAfter time.Duration // Suggested minimum delay before retry
}

func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and should be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c != nil && c.Class == ErrorClassTransient
}

// ClassifyError analyzes an LLM or embedding error and determines its retry class.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Caller gave up; retrying cannot help.
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}

	// 1. Provider status codes
	if status := httpStatus(err); status != 0 {
		switch {
		case status == http.StatusTooManyRequests:
			return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 5 * time.Second}
		case status >= 500:
			return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 2 * time.Second}
		default:
			return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
		}
	}

	// 2. Network errors
	if isNetworkError(err) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 2 * time.Second}
	}

	// 3. Timeouts
	if isTimeoutError(err) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 3 * time.Second}
	}

	// Default to permanent for unknown errors (fail safe)
	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

// ShouldRetry returns true if the error warrants a retry attempt.
func ShouldRetry(err error) bool {
	return ClassifyError(err).IsTransient()
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isNetworkError checks if an error is network-related (transient).
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"temporary failure",
		"dial tcp",
		"eof",
		"resource exhausted",
		"unavailable",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if an error is timeout-related (transient).
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

// retrier executes provider calls with client-side rate limiting and exponential backoff.
type retrier struct {
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
}

func newRetrier(maxRetries int, rps float64) *retrier {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	r := &retrier{maxRetries: maxRetries, baseDelay: time.Second}
	if rps > 0 {
		burst := int(math.Ceil(rps))
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return r
}

// do runs fn until it succeeds, returns a permanent error, or attempts run out.
func (r *retrier) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetry(err) || attempt == r.maxRetries-1 {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * r.baseDelay
		slog.Debug("AI request failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

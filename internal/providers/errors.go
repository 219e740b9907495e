package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned when the service answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// StatusError is a non-2xx response from an inference or embedding endpoint.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "...[truncated]"
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, body)
}

// IsRetryable reports whether err is worth retrying. Client errors other
// than 408/409/429 are permanent; everything else, including transport
// failures and HTTP client timeouts, is transient. Whether the caller gave
// up is a property of its context, not of err, so callers check ctx.Err()
// themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return shouldRetryStatus(se.StatusCode)
	}
	return true
}

func shouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	default:
		return statusCode >= 500
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

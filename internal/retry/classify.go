package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reelsmith/internal/services"
)

// HTTPStatusError describes a non-2xx response from an external service.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	status := strings.TrimSpace(e.Status)
	if status == "" {
		status = strconv.Itoa(e.StatusCode)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("http status %s: %s", status, body)
	}
	return "http status " + status
}

// Retryable reports whether the status signals a rate limit, timeout, or server fault.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// NewHTTPStatusError builds an HTTPStatusError from resp, reading up to 512 bytes of body.
func NewHTTPStatusError(resp *http.Response) *HTTPStatusError {
	if resp == nil {
		return &HTTPStatusError{}
	}
	statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.Body != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr.Body = string(snippet)
	}
	if hint, ok := ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
		statusErr.RetryAfter = hint
	}
	return statusErr
}

// DefaultShouldRetry treats connection failures, timeouts, rate limits, 5xx
// responses, and errors marked transient in services as retryable.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if services.IsRetryable(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// RetryAfterHint extracts a server-provided wait from err.
func RetryAfterHint(err error) (time.Duration, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

// ParseRetryAfter parses a Retry-After header in either seconds or HTTP-date form.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

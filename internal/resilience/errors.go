package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HTTPError carries the status of a failed provider response so the retry
// loop can classify it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Err.Error())
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError builds an HTTPError from a response status, a short body
// excerpt and the raw Retry-After header (may be empty).
func NewHTTPError(statusCode int, body string, retryAfter string) *HTTPError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &HTTPError{
		StatusCode: statusCode,
		RetryAfter: ParseRetryAfter(retryAfter, time.Now()),
		Err:        errors.New(strings.TrimSpace(body)),
	}
}

// ParseRetryAfter parses a Retry-After header given either in seconds or as
// an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// TransientError wraps an error that is safe to retry (network timeout,
// 5xx, 429).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Kind string // "validation" or "auth"
	Err  error
}

func (e *PermanentError) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewValidationError marks err as a non-retryable validation failure.
func NewValidationError(err error) *PermanentError {
	return &PermanentError{Kind: "validation", Err: err}
}

// NewAuthError marks err as a non-retryable authentication failure.
func NewAuthError(err error) *PermanentError {
	return &PermanentError{Kind: "auth", Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a retryable HTTPError, or matches common transient network
// patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return IsTransientHTTPStatus(he.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return statusCode != http.StatusNotImplemented
	default:
		return false
	}
}

// IsRetryable decides whether WithRetry may attempt the call again.
// Cancellation, an open circuit, permanent errors and HTTP 4xx other than
// 408/429 are final. Anything unclassified is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return IsTransientHTTPStatus(he.StatusCode)
	}

	return true
}

// Error classes reported by ClassifyError.
const (
	ClassTransient   = "transient"
	ClassPermanent   = "permanent"
	ClassCircuitOpen = "circuit_open"
	ClassCanceled    = "canceled"
	// ClassUnknown is retried like a transient error but has no known
	// transient shape.
	ClassUnknown = "unknown"
)

// ClassifyError categorizes an error for logs and batch error reports.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case !IsRetryable(err):
		return ClassPermanent
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassUnknown
	}
}

func retryAfterHint(err error) time.Duration {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.RetryAfter
	}
	return 0
}

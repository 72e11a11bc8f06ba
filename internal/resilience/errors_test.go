package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unclassified", errors.New("unexpected payload"), true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 503 wrapped", eris.Wrap(&HTTPError{StatusCode: 503}, "registry: lookup"), true},
		{"http 429", &HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{"http 408", &HTTPError{StatusCode: http.StatusRequestTimeout}, true},
		{"http 400", &HTTPError{StatusCode: http.StatusBadRequest}, false},
		{"http 401", &HTTPError{StatusCode: http.StatusUnauthorized}, false},
		{"http 404", &HTTPError{StatusCode: http.StatusNotFound}, false},
		{"http 422", &HTTPError{StatusCode: http.StatusUnprocessableEntity}, false},
		{"http 501", &HTTPError{StatusCode: http.StatusNotImplemented}, false},
		{"validation", NewValidationError(errors.New("bad input")), false},
		{"auth wrapped", fmt.Errorf("call: %w", NewAuthError(errors.New("denied"))), false},
		{"circuit open", eris.Wrap(ErrCircuitOpen, "resilience: registry"), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"transient", NewTransientError(errors.New("overloaded"), 503), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ClassCircuitOpen, ClassifyError(eris.Wrap(ErrCircuitOpen, "x")))
	assert.Equal(t, ClassCanceled, ClassifyError(context.Canceled))
	assert.Equal(t, ClassPermanent, ClassifyError(&HTTPError{StatusCode: 403}))
	assert.Equal(t, ClassTransient, ClassifyError(&HTTPError{StatusCode: 502}))
	assert.Equal(t, ClassTransient, ClassifyError(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, ClassTransient, ClassifyError(errors.New("read: connection reset by peer")))
	assert.Equal(t, ClassUnknown, ClassifyError(errors.New("something odd")))
	assert.True(t, IsRetryable(errors.New("something odd")), "unknown errors are still retried")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", fmt.Errorf("api: %w", NewTransientError(errors.New("limited"), 429)), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"econnreset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"econnrefused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read: connection reset by peer"), true},
		{"http 502", &HTTPError{StatusCode: 502}, true},
		{"http 404", &HTTPError{StatusCode: 404}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestNewHTTPError(t *testing.T) {
	he := NewHTTPError(http.StatusTooManyRequests, " rate limited \n", "7")
	assert.Equal(t, 429, he.StatusCode)
	assert.Equal(t, 7*time.Second, he.RetryAfter)
	assert.Equal(t, "http 429: rate limited", he.Error())

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	he = NewHTTPError(500, string(long), "")
	assert.Len(t, he.Err.Error(), 512)
	assert.Zero(t, he.RetryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-4", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
}

func TestPermanentError_Message(t *testing.T) {
	pe := NewValidationError(errors.New("tax id must have 14 digits"))
	assert.Equal(t, "validation: tax id must have 14 digits", pe.Error())
}

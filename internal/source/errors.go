package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a provider failure. The kind decides retry behavior:
// Timeout, RateLimited and Transient are retried; NotFound and Permanent are
// immediately terminal. No kind is ever fatal to the transaction.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindNotFound    ErrorKind = "not_found"
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
)

// Error is a classified provider failure.
type Error struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified source error.
func NewError(sourceName string, kind ErrorKind, err error) *Error {
	return &Error{Source: sourceName, Kind: kind, Err: err}
}

// KindOf extracts the error kind, classifying unwrapped errors by their
// network behavior. Unknown errors are treated as transient so a flaky
// provider gets its retry budget.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// IsRetryable reports whether a source error is worth another attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// kindForStatus maps an HTTP response status to an error kind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

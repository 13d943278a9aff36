// Package ctrl holds the flow-control primitives shared by providers and the crawler:
// transient error classification, a fixed-delay retry and a token-bucket rate limiter.
package ctrl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// StatusError carries the HTTP status a provider answered with so the retry policy can
// tell rate limiting and server faults apart from client errors.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// WithStatus wraps err with the HTTP status code. A nil err stays nil.
func WithStatus(err error, status int) error {
	if err == nil {
		return nil
	}
	return &StatusError{Status: status, Err: err}
}

// IsTransient reports whether err looks like a network hiccup worth one more attempt:
// timeouts, resets, refused connections, truncated bodies, HTTP 408/429/5xx.
// Cancellation, parse errors and other client errors are not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.Status)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"i/o timeout",
	"tls handshake timeout",
	"timed out",
	"too many requests",
	"unavailable",
}

func retryableStatus(status int) bool {
	switch {
	case status == 408, status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// Package errkind classifies failures from external collaborators into a
// compact taxonomy that drives retry, degradation, and reporting decisions
// throughout the pipeline.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the failure class carried across subsystem boundaries.
type Kind int

const (
	// Permanent is any non-retryable failure; logged and skipped.
	Permanent Kind = iota
	// Config marks missing or invalid configuration; fatal at startup.
	Config
	// Transient covers network timeouts, 5xx responses, browser crashes.
	// Retried with backoff.
	Transient
	// RateLimited is a 429 or explicit throttle denial. Retried within
	// budget, honoring Retry-After when present.
	RateLimited
	// QuotaExceeded means a daily/monthly API allowance ran out. Not
	// retried within the run; the affected stage degrades.
	QuotaExceeded
	// Auth marks rejected credentials. Not retried; the adapter is
	// reported Offline.
	Auth
	// Parse covers malformed upstream payloads including malformed LLM
	// JSON after the repair attempt.
	Parse
	// LowPersonalization is a soft failure: an email was generated but
	// scored below the quality floor. The draft remains usable.
	LowPersonalization
	// Cancelled is cooperative cancellation; it short-circuits work
	// without counting against the campaign.
	Cancelled
)

var kindNames = map[Kind]string{
	Permanent:          "permanent",
	Config:             "config",
	Transient:          "transient",
	RateLimited:        "rate_limited",
	QuotaExceeded:      "quota_exceeded",
	Auth:               "auth",
	Parse:              "parse",
	LowPersonalization: "low_personalization",
	Cancelled:          "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "permanent"
}

// Error attaches a Kind and the logical service that produced the failure.
type Error struct {
	Kind       Kind
	Service    string
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	prefix := e.Op
	if e.Service != "" {
		prefix = e.Service + ": " + e.Op
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a classification.
func New(kind Kind, service, op string, err error) *Error {
	return &Error{Kind: kind, Service: service, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, service, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Service: service, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindFromStatus maps an HTTP status to a Kind. 401/403 reject
// credentials, 402 signals exhausted quota, 429 is a rate denial, 408 and
// 5xx are transient, everything else 4xx is permanent.
func KindFromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return Auth
	case status == 402:
		return QuotaExceeded
	case status == 429:
		return RateLimited
	case status == 408 || status >= 500:
		return Transient
	default:
		return Permanent
	}
}

// FromStatus builds a classified error from an HTTP status.
func FromStatus(service, op string, status int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindFromStatus(status),
		Service:    service,
		Op:         op,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("status %d", status),
	}
}

// Of extracts the Kind from an error chain. Unclassified errors map to
// Permanent; context cancellation maps to Cancelled and deadline expiry
// to Transient; net timeouts map to Transient.
func Of(err error) Kind {
	if err == nil {
		return Permanent
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	return Permanent
}

// OfTransport classifies a failure from a transport that never produced a
// response. Context rules from Of apply; anything else (connection
// refused, reset, DNS) is transient.
func OfTransport(err error) Kind {
	if kind := Of(err); kind != Permanent {
		return kind
	}
	return Transient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && Of(err) == kind
}

// Retryable reports whether the error should be retried within a stage's
// retry budget.
func Retryable(err error) bool {
	switch Of(err) {
	case Transient, RateLimited:
		return true
	}
	return false
}

// RetryAfter returns the server-requested wait, if the error carries one.
func RetryAfter(err error) time.Duration {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.RetryAfter
	}
	return 0
}

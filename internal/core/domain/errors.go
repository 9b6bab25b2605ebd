package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrUpstreamTimeout       = errors.New("upstream timeout")
	ErrRateLimited           = errors.New("rate limited")
	ErrMalformedResult       = errors.New("malformed result")
	ErrNoValidScores         = errors.New("no valid scores")
	ErrInsufficientEvidence  = errors.New("insufficient evidence")
	ErrInsufficientDiversity = errors.New("insufficient diversity")
	ErrTemporary             = errors.New("temporary failure")
)

// ErrorKind is the machine-readable failure category carried by error events.
type ErrorKind string

const (
	KindBadInput              ErrorKind = "BAD_INPUT"
	KindUpstreamUnavailable   ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindNoEvidence            ErrorKind = "NO_EVIDENCE"
	KindInsufficientEvidence  ErrorKind = "INSUFFICIENT_EVIDENCE"
	KindInsufficientDiversity ErrorKind = "INSUFFICIENT_DIVERSITY"
	KindMalformedResult       ErrorKind = "MALFORMED_RESULT"
	KindRateLimited           ErrorKind = "RATE_LIMITED"
	KindUpstreamTimeout       ErrorKind = "UPSTREAM_TIMEOUT"
	KindInternal              ErrorKind = "INTERNAL"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKindOf maps an error chain onto the caller-facing taxonomy.
func ErrorKindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindBadInput
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamTimeout
	case errors.Is(err, ErrMalformedResult), errors.Is(err, ErrNoValidScores):
		return KindMalformedResult
	case errors.Is(err, ErrInsufficientEvidence):
		return KindInsufficientEvidence
	case errors.Is(err, ErrInsufficientDiversity):
		return KindInsufficientDiversity
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTemporary):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

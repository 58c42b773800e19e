// Package boterr defines the engine's error-kind taxonomy.
//
// The exchange adapter classifies the errors it returns with a Kind. One
// place matches on error text instead: the order manager detects rate-limit
// rejections by looking for "rate" or "429" in an OrderResult's Error.
package boterr

import "errors"

// Kind enumerates the error classes the engine distinguishes.
type Kind string

const (
	ConfigInvalid     Kind = "config_invalid"
	Connectivity      Kind = "connectivity"
	RateLimited       Kind = "rate_limited"
	Throttled         Kind = "throttled"
	Signing           Kind = "signing"
	Rejected          Kind = "rejected"          // exchange-reason order rejection
	NotFilled         Kind = "not_filled"         // IOK order left open
	PreconditionFailed Kind = "precondition_failed" // risk gate
	Duplicate         Kind = "duplicate"          // idempotent no-op
	Staleness         Kind = "staleness"          // price data too old
	Fatal             Kind = "fatal"              // unrecoverable
)

// Error wraps an underlying cause with a classification Kind.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "submit_order"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

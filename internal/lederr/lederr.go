// Package lederr defines the Truth Ledger's error-kind taxonomy (spec.md §7)
// so that callers anywhere in the pipeline can classify a failure with
// errors.As regardless of which package raised it, the same way
// internal/storage.ErrNotFound lets the server map one sentinel to a 404
// — generalized here to the richer kind set a multi-stage pipeline with
// retries and cancellation needs.
package lederr

import (
	"errors"
	"fmt"
)

// Kind classifies an error per spec.md §7.
type Kind string

const (
	// InvalidInput: caller supplied malformed data. Surfaced; never retried.
	InvalidInput Kind = "invalid_input"
	// NotFound: resolution of an id yielded nothing. Surfaced; 404 at the API.
	NotFound Kind = "not_found"
	// IntegrityViolation: an invariant would be broken by the attempted write.
	IntegrityViolation Kind = "integrity_violation"
	// Conflict: optimistic concurrency collision within a bucket. Retried.
	Conflict Kind = "conflict"
	// Transient: store/fetcher timeout. Retried with backoff, then escalated.
	Transient Kind = "transient"
	// Structural: registry failed to load, configuration missing. Run fails immediately.
	Structural Kind = "structural"
)

// Error wraps an underlying error with a Kind so propagation policy
// (spec.md §7) can be driven by errors.As instead of string matching or
// package-specific sentinels.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is shorthand for New with a formatted underlying error.
func Wrap(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it (or a wrapped error) is a *Error,
// and ok=true. Otherwise returns ("", false).
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}

// Retriable reports whether the propagation policy (spec.md §7) calls for
// retrying this error within its processing unit: Conflict and Transient do,
// everything else does not.
func Retriable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == Conflict || k == Transient
}

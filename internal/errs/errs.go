// Package errs implements the closed error-kind taxonomy from the engine's
// error handling design. Every engine-surfaced failure is an *Error with a
// Kind drawn from this package's constants, never a bare string-prefixed
// error, so callers can branch with errors.As instead of substring matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the engine's closed set of error categories.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindStateTransition   Kind = "StateTransitionError"
	KindLockBusy          Kind = "LockBusy"
	KindLockStale         Kind = "LockStale"
	KindLockZombie        Kind = "LockZombie"
	KindMergeConflict     Kind = "MergeConflict"
	KindRetryExhaustion   Kind = "RetryExhaustion"
	KindTransaction       Kind = "TransactionError"
	KindRollback          Kind = "RollbackError"
	KindRecoveryExhausted Kind = "RecoveryExhaustion"
	KindNetwork           Kind = "NetworkError"
	KindIO                Kind = "Io"
)

// Error is the engine's structured, JSON-serializable error type.
type Error struct {
	Kind      Kind
	Message   string
	Context   map[string]any
	NextSteps []string
	Cause     error
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with context key/value added.
func (e *Error) WithContext(key string, value any) *Error {
	out := *e
	out.Context = cloneContext(out.Context)
	out.Context[key] = value
	return &out
}

// WithNextSteps returns a copy of e with next-step guidance appended.
func (e *Error) WithNextSteps(steps ...string) *Error {
	out := *e
	out.NextSteps = append(append([]string{}, out.NextSteps...), steps...)
	return &out
}

func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(KindLockBusy, "")) works as a kind check.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// JSON is the shape the CLI's --json mode emits for a failed command,
// per §7: {error_kind, message, context, next_steps[]}.
type JSON struct {
	ErrorKind string         `json:"error_kind"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	NextSteps []string       `json:"next_steps,omitempty"`
}

// ToJSON converts e to its user-facing JSON representation.
func (e *Error) ToJSON() JSON {
	return JSON{
		ErrorKind: string(e.Kind),
		Message:   e.Message,
		Context:   e.Context,
		NextSteps: e.NextSteps,
	}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

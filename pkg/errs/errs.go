// Package errs defines the error taxonomy shared across the mesh: the kinds
// of failure a caller needs to distinguish, not a catalogue of concrete
// types.
package errs

import "errors"

// Kind classifies a failure the way the dispatcher, queue, and worker need
// to react to it. It is deliberately coarse; reason strings carry detail.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTransientNetwork Kind = "transient_network"
	KindWorkerFailure    Kind = "worker_failure"
	KindTimeout          Kind = "timeout"
	KindStaleClaim       Kind = "stale_claim"
	KindLockTimeout      Kind = "lock_timeout"
	KindSchemaBreach     Kind = "schema_breach"
	KindFatal            Kind = "fatal"
)

// Error wraps an underlying cause with a taxonomy Kind and an optional
// stable reason code (e.g. "max_retries_exceeded", "timeout", "cancelled").
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel reasons referenced across packages by name.
var (
	ErrMaxRetriesExceeded = errors.New("max_retries_exceeded")
	ErrTimeout            = errors.New("timeout")
	ErrCancelled          = errors.New("cancelled")
	ErrPathEscape         = errors.New("path escapes allowed root")
	ErrUnsupportedKind    = errors.New("unsupported job kind")
	ErrDuplicateJob       = errors.New("duplicate job id")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAtCapacity         = errors.New("at capacity")
	ErrNotFound           = errors.New("not found")
	ErrRiskGateBlocked    = errors.New("blocked by risk policy")
)

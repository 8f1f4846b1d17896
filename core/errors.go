package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTranscriptInvariant is returned when an append would break the
	// observation/invocation pairing of a Conversation.
	ErrTranscriptInvariant = errors.New("transcript invariant violated")

	// ErrEmptyResponse is returned when a backend closes its stream without
	// producing any message or fragment.
	ErrEmptyResponse = errors.New("empty response from reasoning backend")

	// ErrMalformedFragment is returned when a backend streams a fragment
	// that cannot be assembled, such as an out-of-range tool-call index.
	ErrMalformedFragment = errors.New("malformed fragment from reasoning backend")
)

// BackendError reports that the reasoning backend was unreachable or returned
// a malformed response. It always aborts the loop.
type BackendError struct {
	Backend string // Provider / model name
	Err     error
}

func (e *BackendError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("reasoning backend: %v", e.Err)
	}
	return fmt.Sprintf("reasoning backend %s: %v", e.Backend, e.Err)
}

// Unwrap exposes the underlying error.
func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err as a BackendError attributed to backend.
func NewBackendError(backend string, err error) *BackendError {
	return &BackendError{Backend: backend, Err: err}
}

// LoopError is the only error kind surfaced by a run. Op names the phase that
// failed ("reasoning", "action", "plan", "replan", "transcript") and Iteration
// the 1-based reasoning cycle in which it happened (0 when not applicable).
type LoopError struct {
	Op        string
	Iteration int
	Err       error
}

func (e *LoopError) Error() string {
	if e.Iteration > 0 {
		return fmt.Sprintf("agentloop: %s failed at iteration %d: %v", e.Op, e.Iteration, e.Err)
	}
	return fmt.Sprintf("agentloop: %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *LoopError) Unwrap() error { return e.Err }

// NewLoopError builds a LoopError, returning err unchanged if it already is one.
func NewLoopError(op string, iteration int, err error) error {
	if err == nil {
		return nil
	}
	var le *LoopError
	if errors.As(err, &le) {
		return err
	}
	return &LoopError{Op: op, Iteration: iteration, Err: err}
}

// IsBackendError reports whether err (or anything it wraps) is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

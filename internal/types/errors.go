// internal/types/errors.go
package types

import "errors"

// Error taxonomy shared across the core. Callers classify with errors.Is;
// all wrapping uses fmt.Errorf with %w so the sentinel survives.
var (
	// ErrNotFound indicates an unknown session or message.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent-write race detected by a
	// compare-and-swap, or a caller supplying a sequence number the log
	// owns. Retryable by the caller.
	ErrConflict = errors.New("conflict")

	// ErrUpstream indicates a transient failure of an external model or
	// summarization call. Retryable with backoff.
	ErrUpstream = errors.New("upstream error")

	// ErrInvalidRequest indicates a malformed turn or a payload the
	// upstream rejected outright. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")
)

package domain

import "errors"

// Error kinds surfaced by the core. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrInvalidInput marks data problems that retrying cannot fix:
	// empty extracted text, zero chunks produced, or an embedding whose
	// dimension does not match the collection configuration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable marks an unreachable or rate-limited
	// embedding/completion backend, surfaced after retries exhaust.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrIndexUnavailable marks an unreachable vector storage backend.
	// It is propagated without retry; run-level retry belongs to the
	// caller re-invoking vectorization.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrNotReady rejects chat queries against a book whose
	// vectorization status is not completed.
	ErrNotReady = errors.New("book not vectorized")

	// ErrConflict rejects a vectorization run requested while another
	// run is already processing the same book.
	ErrConflict = errors.New("vectorization already in progress")
)

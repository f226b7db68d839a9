package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by the stage that caused it.
type Kind string

const (
	// KindInvalidInput covers request validation failures. No I/O has
	// happened when one of these is returned.
	KindInvalidInput Kind = "invalid_input"

	// KindEmbeddingFailure covers embedding provider failures.
	KindEmbeddingFailure Kind = "embedding_failure"

	// KindStoreFailure covers vector store and document store failures.
	KindStoreFailure Kind = "store_failure"

	// KindCacheFailure covers cache failures. The pipeline never
	// surfaces these to callers; they exist for logging and metrics.
	KindCacheFailure Kind = "cache_failure"

	// KindGenerationFailure covers language model failures during
	// answer generation.
	KindGenerationFailure Kind = "generation_failure"
)

// Error is a classified pipeline failure. Op names the operation that
// failed, Err carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or empty when err is not
// a pipeline error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func invalidInput(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

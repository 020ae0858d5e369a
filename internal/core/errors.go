package core

import "fmt"

// ValidationError marks malformed input. It is raised before any backend
// call, so no partial state can exist when one is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// EmbeddingError marks an embedding provider failure: the model or service
// is unavailable, or an input exceeds the maximum token length.
type EmbeddingError struct {
	Msg string
	Err error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding: %s: %v", e.Msg, e.Err)
	}
	return "embedding: " + e.Msg
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError marks a vector backend failure: unreachable, a read/write
// error, or a dimension mismatch with the configured embedding size.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// RerankError marks a reranker failure. Recoverable: the orchestrator
// falls back to the unreranked candidate set.
type RerankError struct {
	Msg string
	Err error
}

func (e *RerankError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rerank: %s: %v", e.Msg, e.Err)
	}
	return "rerank: " + e.Msg
}

func (e *RerankError) Unwrap() error { return e.Err }

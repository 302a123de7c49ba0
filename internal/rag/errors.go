package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrieval tags a failure of the document retrieval capability.
	// It shares the retry budget with generation failures.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration tags a provider-level failure calling the LLM.
	ErrGeneration = errors.New("generation failed")
)

// ExhaustedError is returned when every attempt of the answer loop
// failed. It carries the last underlying error for diagnostics.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed to generate answer after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

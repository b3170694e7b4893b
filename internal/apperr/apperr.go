// Package apperr defines the kinded errors the pipeline surfaces to its callers.
// Each external-service failure carries a Kind so API layers can tell
// "couldn't search", "couldn't generate" and "couldn't execute" apart.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Retrieval indicates the embedding service or vector index was unavailable.
	Retrieval Kind = "retrieval"
	// Extraction indicates an LLM table or SQL extraction failed. Always recovered locally.
	Extraction Kind = "extraction"
	// Generation indicates the generation model call failed.
	Generation Kind = "generation"
	// Validation indicates schema mismatches in generated SQL.
	Validation Kind = "validation"
	// ExecutionSafety indicates a statement was blocked before reaching the warehouse.
	ExecutionSafety Kind = "execution_safety"
	// ExecutionRuntime indicates the warehouse rejected or failed the job.
	ExecutionRuntime Kind = "execution_runtime"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or "" when none is present.
func KindOf(err error) Kind {
	var kinded *E
	if errors.As(err, &kinded) {
		return kinded.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

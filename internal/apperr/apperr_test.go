package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfFindsWrappedKind(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("run pipeline: %w", Wrap(Retrieval, "similarity search failed", base))

	if got := KindOf(err); got != Retrieval {
		t.Fatalf("KindOf() = %q, want %q", got, Retrieval)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped base error to be reachable")
	}
	if !Is(err, Retrieval) {
		t.Fatal("Is(err, Retrieval) = false")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("x")); got != "" {
		t.Fatalf("KindOf() = %q", got)
	}
	if Is(nil, Generation) {
		t.Fatal("Is(nil) should be false")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := New(ExecutionSafety, "blocked keyword: DROP")
	if err.Error() != "execution_safety: blocked keyword: DROP" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("exercise option 7: %w", ErrAlreadyExercised)

	if got := CodeOf(err); got != "ALREADY_EXERCISED" {
		t.Errorf("expected ALREADY_EXERCISED, got %s", got)
	}
	if IsRetryable(err) {
		t.Error("already exercised must not be retryable")
	}
	if !errors.Is(err, ErrAlreadyExercised) {
		t.Error("errors.Is should match the wrapped sentinel")
	}
}

func TestRetryableClasses(t *testing.T) {
	retryable := []*Error{ErrStalePriceData, ErrCircuitBreakerTripped}
	for _, e := range retryable {
		if !IsRetryable(fmt.Errorf("wrap: %w", e)) {
			t.Errorf("%s should be retryable", e.Code)
		}
	}

	final := []*Error{ErrSignatureInvalid, ErrAlreadyExpired, ErrInvalidSpecification}
	for _, e := range final {
		if IsRetryable(e) {
			t.Errorf("%s should not be retryable", e.Code)
		}
	}
}

func TestCodeOfUnclassified(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != "INTERNAL" {
		t.Errorf("expected INTERNAL, got %s", got)
	}
}

func TestFromCode(t *testing.T) {
	for _, e := range All {
		if FromCode(e.Code) != e {
			t.Errorf("FromCode(%s) did not round trip", e.Code)
		}
	}
	if FromCode("NOPE") != nil {
		t.Error("unknown code should map to nil")
	}
}

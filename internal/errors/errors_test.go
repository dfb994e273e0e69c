package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := ErrValidation("unknown table orders")
	if !strings.Contains(err.Error(), "unknown table orders") {
		t.Errorf("expected reason in message, got %q", err.Error())
	}

	wrapped := err.WithCause(fmt.Errorf("inner"))
	if !strings.Contains(wrapped.Error(), "inner") {
		t.Errorf("expected cause in message, got %q", wrapped.Error())
	}
}

func TestCategoryMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    *Error
		status int
	}{
		{ErrScenarioNotFound("s1"), 404},
		{ErrScenarioBusy("s1", "a1"), 409},
		{ErrValidation("bad"), 400},
		{ErrCompletionTimeout("classification", "30s"), 504},
		{ErrExecution("boom"), 500},
		{ErrIntegrity("delete refused", "branches exist"), 409},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, got, tt.status)
		}
	}
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", ErrScenarioBusy("s1", "a1"))
	if !IsCode(err, CodeScenarioBusy) {
		t.Error("IsCode should see through wrapping")
	}
	if IsCode(err, CodeValidation) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, CodeValidation) {
		t.Error("IsCode on nil should be false")
	}
}

func TestErrorsIs(t *testing.T) {
	t.Parallel()

	err := ErrApprovalResolved("a1")
	if !stderrors.Is(err, &Error{Code: CodeApprovalResolved}) {
		t.Error("errors.Is should match by code")
	}
}

func TestAsError(t *testing.T) {
	t.Parallel()

	if AsError(fmt.Errorf("plain")) != nil {
		t.Error("plain error should not convert")
	}
	inner := ErrExecutionNoRows("params")
	got := AsError(fmt.Errorf("wrap: %w", inner))
	if got == nil || got.Code != CodeExecution {
		t.Errorf("AsError = %v, want execution error", got)
	}
}

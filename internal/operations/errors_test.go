package operations_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "edustat/internal/errors"
	"edustat/internal/operations"
)

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *operations.OperationError
		want string
	}{
		{
			name: "validation",
			err:  operations.NewValidationError("verification", "cleaning report not available"),
			want: "[validation] verification: cleaning report not available",
		},
		{
			name: "execution with cause",
			err:  operations.NewExecutionError("cleaning", errors.New("disk full"), true),
			want: "[execution] cleaning: stage execution failed: disk full",
		},
		{
			name: "fatal without stage",
			err:  operations.NewFatalError("task panicked", nil),
			want: "[fatal] task panicked",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable execution", operations.NewExecutionError("s", errors.New("x"), true), true},
		{"non retryable execution", operations.NewExecutionError("s", errors.New("x"), false), false},
		{"storage app error", apperrors.NewStorageError("replace statistics", errors.New("locked")), true},
		{"wrapped storage", fmt.Errorf("persist: %w", apperrors.NewStorageError("x", nil)), true},
		{"config error", apperrors.NewConfigError("no subjects", nil), false},
		{"timeout", operations.NewTimeoutError("s", "1s"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, operations.IsRetryable(tt.err))
		})
	}
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, operations.IsCancellation(operations.NewCancellationError("cleaning")))
	assert.True(t, operations.IsCancellation(fmt.Errorf("load: %w", context.Canceled)))
	assert.True(t, operations.IsCancellation(apperrors.NewCancelledError("school s1 skipped")))
	assert.False(t, operations.IsCancellation(context.DeadlineExceeded))
	assert.False(t, operations.IsCancellation(nil))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, operations.WrapError(nil, "s", "m"))

	plain := errors.New("boom")
	wrapped := operations.WrapError(plain, "data_loading", "stage execution failed")
	assert.Equal(t, operations.ErrorTypeExecution, wrapped.Type)
	assert.Equal(t, "data_loading", wrapped.Stage)
	assert.ErrorIs(t, wrapped, plain)

	existing := operations.NewValidationError("", "bad")
	assert.Same(t, existing, operations.WrapError(existing, "precheck", "ignored"))
	assert.Equal(t, "precheck", existing.Stage)

	assert.Equal(t, operations.ErrorTypeExecution, operations.GetErrorType(plain))
	assert.Equal(t, operations.ErrorType(""), operations.GetErrorType(nil))
}

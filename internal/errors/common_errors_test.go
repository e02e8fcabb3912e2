package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      NewDataValidationError("empty dataset"),
			expected: "[VALIDATION] empty dataset",
		},
		{
			name:     "with cause",
			err:      NewStorageError("clear batch", fmt.Errorf("disk full")),
			expected: "[STORAGE] clear batch: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_CategorySentinels(t *testing.T) {
	wrapped := fmt.Errorf("subject math: %w", NewConfigError("unknown subject kind", nil))

	assert.True(t, errors.Is(wrapped, ErrConfiguration))
	assert.False(t, errors.Is(wrapped, ErrDataValidation))
	assert.Equal(t, ErrTypeConfig, TypeOf(wrapped))
	assert.True(t, IsFatal(wrapped))

	assert.False(t, IsFatal(NewDataValidationError("no scores")))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestAppError_UnwrapAndContext(t *testing.T) {
	cause := errors.New("root")
	err := NewComputationError("discrimination", cause).WithContext("samples", 5)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 5, err.Context["samples"])
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{NewConfigError("bad", nil), http.StatusUnprocessableEntity, "CONFIGURATION_ERROR"},
		{NewNotFoundError("task t-1"), http.StatusNotFound, "NOT_FOUND"},
		{NewConflictError("batch running"), http.StatusConflict, "CONFLICT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.ErrorCode)
		})
	}
	assert.Nil(t, FromError(nil))
}

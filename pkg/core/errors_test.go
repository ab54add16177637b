package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{Category: ErrCategoryHost, Code: "test_error", Message: "test message"}
	assert.Equal(t, "test message", err.Error())

	err.Cause = errors.New("underlying error")
	assert.Equal(t, "test message: underlying error", err.Error())
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{Message: "wrapper", Cause: cause}
	assert.Same(t, cause, err.Unwrap())
}

func TestExecutionError_WithCause(t *testing.T) {
	cause := errors.New("custom cause")
	err := ErrHostRefused.WithCause(cause)

	assert.Same(t, cause, err.Cause)
	assert.Equal(t, ErrHostRefused.Code, err.Code)
	assert.Nil(t, ErrHostRefused.Cause, "sentinel is unchanged")
}

func TestExecutionError_WithMessage(t *testing.T) {
	err := ErrTimeout.WithMessage("custom timeout message")

	assert.Equal(t, "custom timeout message", err.Message)
	assert.Equal(t, ErrTimeout.Code, err.Code)
	assert.NotEqual(t, "custom timeout message", ErrTimeout.Message, "sentinel is unchanged")
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{Code: "test", Message: "test", Details: map[string]interface{}{"existing": "value"}}

	err := original.WithDetails(map[string]interface{}{"button": "Clear cache", "attempt": 3})

	assert.Equal(t, map[string]interface{}{"existing": "value", "button": "Clear cache", "attempt": 3}, err.Details)
	assert.NotContains(t, original.Details, "button", "original is unchanged")
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrCancelled, ErrCategoryCancelled, "cancelled"},
		{ErrHostRefused, ErrCategoryHost, "host_refused"},
		{ErrLaunchFailed, ErrCategoryHost, "launch_failed"},
		{ErrTimeout, ErrCategoryTimeout, "timeout"},
		{ErrDeviceDisconnected, ErrCategoryConnection, "device_disconnected"},
		{ErrServerUnreachable, ErrCategoryConnection, "server_unreachable"},
		{ErrInvalidConfig, ErrCategoryConfig, "invalid_config"},
		{ErrMissingRequired, ErrCategoryConfig, "missing_required"},
		{ErrNotAuthorized, ErrCategoryAuthorization, "not_authorized"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestExecutionError_ErrorsIs(t *testing.T) {
	cause := errors.New("root cause")
	assert.ErrorIs(t, ErrTimeout.WithCause(cause), cause)
}

func TestExecutionError_IsMatchesSentinelCopies(t *testing.T) {
	err := ErrCancelled.WithCause(context.Canceled).WithMessage("stopped waiting")

	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrHostRefused)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutionError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("tap failed: %w", ErrHostRefused.WithCause(errors.New("busy")))
	assert.ErrorIs(t, err, ErrHostRefused)
}

func TestCancelled(t *testing.T) {
	err := Cancelled(context.Canceled, "waiting for window root")
	assert.Equal(t, ErrCategoryCancelled, err.Category)
	assert.ErrorIs(t, err, context.Canceled)

	deadline := Cancelled(context.DeadlineExceeded, "waiting for window root")
	assert.Equal(t, ErrCategoryTimeout, deadline.Category)
	assert.ErrorIs(t, deadline, ErrCancelled)
	assert.NotErrorIs(t, deadline, context.Canceled)

	assert.ErrorIs(t, Cancelled(nil, "x"), context.Canceled, "nil context error defaults to Canceled")
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, ErrCategoryNone, CategoryOf(nil))
	assert.Equal(t, ErrCategoryNone, CategoryOf(errors.New("plain")))
	assert.Equal(t, ErrCategoryAuthorization, CategoryOf(fmt.Errorf("wrap: %w", ErrNotAuthorized)))
	assert.Equal(t, ErrCategoryTimeout, CategoryOf(errors.Join(errors.New("a"), Cancelled(context.DeadlineExceeded, "b"))))
}

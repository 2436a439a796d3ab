package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{"no uuids", &NotFoundError{Resource: "service"}, "service not found"},
		{"service", &NotFoundError{Resource: "service", UUIDs: []string{"181a"}}, `service "181a" not found`},
		{
			"characteristic in service",
			&NotFoundError{Resource: "characteristic", UUIDs: []string{"181a", "2a6e"}},
			`characteristic "2a6e" not found in service "181a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionError_Is(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", &ConnectionError{State: AlreadyConnected, Msg: "streaming"})

	assert.True(t, errors.Is(wrapped, ErrAlreadyConnected))
	assert.False(t, errors.Is(wrapped, ErrNotConnected))
	assert.True(t, IsConnectionState(wrapped, AlreadyConnected))
	assert.False(t, IsConnectionState(errors.New("other"), AlreadyConnected))
	assert.Equal(t, "already_connected: streaming", errors.Unwrap(wrapped).Error())
	assert.Equal(t, "not_connected", ErrNotConnected.Error())

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(ErrNotConnected))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"not connected", errors.New("Device Not Connected"), ErrNotConnected},
		{"already connected", errors.New("device already connected"), ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.expected)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}

	assert.Nil(t, NormalizeError(nil))
	other := errors.New("gatt: att error")
	assert.Same(t, other, NormalizeError(other))
}

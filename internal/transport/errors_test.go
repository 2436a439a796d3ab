package transport

import (
	"errors"
	"testing"

	"github.com/srg/pbit/internal/reading"
	"github.com/stretchr/testify/assert"
)

func TestProtocolNotSupportedError(t *testing.T) {
	missing := errors.New("service not found")
	err := &ProtocolNotSupportedError{
		Policy: PolicyCompatible,
		Device: "AA:BB",
		Attempts: []Attempt{
			{Protocol: reading.ProtocolModern, Err: missing},
			{Protocol: reading.ProtocolLegacy, Err: errors.New("characteristic not found")},
		},
	}

	assert.ErrorIs(t, err, ErrProtocolNotSupported)
	assert.ErrorIs(t, err, missing)
	assert.Contains(t, err.Error(), `device "AA:BB" under compatible discovery`)
	assert.Contains(t, err.Error(), "modern: service not found")
	assert.Contains(t, err.Error(), "legacy: characteristic not found")
}

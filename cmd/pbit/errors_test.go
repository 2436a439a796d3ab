package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/pbit/internal/backend"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"bluetooth off", fmt.Errorf("scan: %w", device.ErrBluetoothOff), "Bluetooth is turned off"},
		{"no device", fmt.Errorf("discovery: %w", device.ErrNoDeviceFound), "--compatible"},
		{"protocol", &transport.ProtocolNotSupportedError{Policy: transport.PolicyFiltered, Device: "AA"}, "retry with --compatible"},
		{"already connected", device.ErrAlreadyConnected, "Already connected"},
		{"connection lost", ErrConnectionLost, "disconnected"},
		{"delivery", fmt.Errorf("flush: %w", &backend.DeliveryError{StatusCode: 401}), "HTTP 401"},
		{"unsupported platform", fmt.Errorf("radio: %w", device.ErrUnsupported), "macOS"},
		{"other", errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}

package main

import (
	"errors"
	"fmt"

	"github.com/srg/pbit/internal/backend"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the radio link dropped while recording.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a message with a hint on what to do next.
func FormatUserError(err error) string {
	var delivery *backend.DeliveryError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v. Bluetooth access is only available on macOS in this build.", err)
	case errors.Is(err, device.ErrNoDeviceFound):
		return "No P-Bit found nearby. Make sure it is powered on and in range; older firmware may need --compatible."
	case errors.Is(err, transport.ErrProtocolNotSupported):
		return fmt.Sprintf("%v\nThe device does not expose the P-Bit sensor service. For older firmware, retry with --compatible.", err)
	case errors.Is(err, device.ErrAlreadyConnected):
		return "Already connected to a P-Bit."
	case errors.Is(err, ErrConnectionLost):
		return "The P-Bit disconnected. Check its battery and distance, then reconnect."
	case errors.As(err, &delivery):
		return fmt.Sprintf("The classroom API rejected the readings (HTTP %d). Check the token and classroom id.", delivery.StatusCode)
	default:
		return err.Error()
	}
}

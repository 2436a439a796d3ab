package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on the peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout       = errors.New("timeout")
	ErrUnsupported   = errors.New("unsupported")
	ErrNoDeviceFound = errors.New("no matching device found")
	ErrBluetoothOff  = errors.New("bluetooth is turned off")
)

// NormalizeError maps known radio library error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is the subset of a BLE advertisement used for device discovery
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Radio discovers and dials peripherals
type Radio interface {
	// Scan delivers advertisements to handler until ctx is done.
	Scan(ctx context.Context, handler func(Advertisement)) error
	// Dial opens a GATT connection to the peripheral at address.
	Dial(ctx context.Context, address string) (Peripheral, error)
}

// Peripheral is an open GATT connection
type Peripheral interface {
	Address() string
	Name() string
	// PrimaryService resolves a primary service; returns *NotFoundError when absent.
	PrimaryService(uuid string) (Service, error)
	// Disconnected is closed when the radio link is lost or the connection is closed.
	Disconnected() <-chan struct{}
	Close() error
}

// Service is a resolved GATT primary service
type Service interface {
	UUID() string
	// Characteristic resolves a characteristic; returns *NotFoundError when absent.
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is a resolved GATT characteristic that can stream value changes
type Characteristic interface {
	UUID() string
	// StartNotifications subscribes to value changes; handler receives raw bytes.
	StartNotifications(handler func([]byte)) error
	StopNotifications() error
}

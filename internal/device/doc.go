// Package device defines the radio abstraction the telemetry pipeline depends on:
// discovery, GATT service and characteristic resolution, notification streaming and
// disconnect detection, plus the error taxonomy shared by radio adapters.
//
// The concrete adapter over github.com/go-ble/ble lives in the go-ble subpackage.
package device

package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/device"
)

// Radio implements device.Radio on top of the host BLE adapter provided by DeviceFactory.
// The adapter is created lazily on first use and shared by scans and dials.
type Radio struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewRadio creates a new go-ble backed radio
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{logger: logger}
}

func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return r.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		r.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	r.dev = dev
	return dev, nil
}

// Scan delivers advertisements until ctx is done.
// Cancellation and deadline expiry are the normal way a scan ends and are not reported as errors.
func (r *Radio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}

	r.logger.Debug("Starting BLE scan...")
	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

// Dial connects to the peripheral at address and discovers its GATT profile.
func (r *Radio) Dial(ctx context.Context, address string) (device.Peripheral, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	r.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	r.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			r.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	r.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Debug("Profile discovered successfully")

	return newPeripheral(client, profile, r.logger), nil
}

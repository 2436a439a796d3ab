package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/device"
)

// blePeripheral adapts a connected ble.Client and its discovered profile to device.Peripheral
type blePeripheral struct {
	client  ble.Client
	profile *ble.Profile
	logger  *logrus.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func newPeripheral(client ble.Client, profile *ble.Profile, logger *logrus.Logger) *blePeripheral {
	return &blePeripheral{
		client:  client,
		profile: profile,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func (p *blePeripheral) Address() string { return p.client.Addr().String() }
func (p *blePeripheral) Name() string    { return p.client.Name() }

// PrimaryService looks the service up in the discovered profile.
func (p *blePeripheral) PrimaryService(uuid string) (device.Service, error) {
	want := device.NormalizeUUID(uuid)
	for _, svc := range p.profile.Services {
		if device.NormalizeUUID(svc.UUID.String()) == want {
			return &bleService{peripheral: p, svc: svc}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// Disconnected returns the client's disconnect channel when the platform provides one
// (CoreBluetooth does); otherwise a channel closed by Close.
func (p *blePeripheral) Disconnected() <-chan struct{} {
	if dc, ok := p.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return p.closed
}

func (p *blePeripheral) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = NormalizeError(p.client.CancelConnection())
		close(p.closed)
	})
	return err
}

type bleService struct {
	peripheral *blePeripheral
	svc        *ble.Service
}

func (s *bleService) UUID() string { return device.NormalizeUUID(s.svc.UUID.String()) }

func (s *bleService) Characteristic(uuid string) (device.Characteristic, error) {
	want := device.NormalizeUUID(uuid)
	for _, c := range s.svc.Characteristics {
		if device.NormalizeUUID(c.UUID.String()) == want {
			return &bleCharacteristic{peripheral: s.peripheral, char: c}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
}

type bleCharacteristic struct {
	peripheral *blePeripheral
	char       *ble.Characteristic

	mu       sync.Mutex
	indicate bool
}

func (c *bleCharacteristic) UUID() string { return device.NormalizeUUID(c.char.UUID.String()) }

// StartNotifications subscribes via notify, falling back to indicate when that is all the
// characteristic supports. Each payload is copied before it reaches handler.
func (c *bleCharacteristic) StartNotifications(handler func([]byte)) error {
	var indicate bool
	switch {
	case c.char.Property&ble.CharNotify != 0:
	case c.char.Property&ble.CharIndicate != 0:
		indicate = true
	default:
		return fmt.Errorf("characteristic %s: %w: no notify or indicate property", c.UUID(), device.ErrUnsupported)
	}

	err := c.peripheral.client.Subscribe(c.char, indicate, func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.UUID(), NormalizeError(err))
	}

	c.mu.Lock()
	c.indicate = indicate
	c.mu.Unlock()

	c.peripheral.logger.WithFields(logrus.Fields{
		"char_uuid": c.UUID(),
		"indicate":  indicate,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

func (c *bleCharacteristic) StopNotifications() error {
	c.mu.Lock()
	indicate := c.indicate
	c.mu.Unlock()

	if err := c.peripheral.client.Unsubscribe(c.char, indicate); err != nil {
		return fmt.Errorf("failed to unsubscribe from characteristic %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}

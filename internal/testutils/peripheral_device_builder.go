package testutils

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/srg/pbit/internal/device"
)

// CharacteristicConfig represents a characteristic in a fake device profile
type CharacteristicConfig struct {
	UUID string `json:"uuid"`
}

// ServiceConfig represents a service in a fake device profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete fake device profile
type DeviceProfileConfig struct {
	Name     string          `json:"name,omitempty"`
	Address  string          `json:"address,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a FakePeripheral with service/characteristic support
// and optional failure injection.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig

	startErr error
	stopErr  error
	closeErr error
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Address:  "AA:BB:CC:DD:EE:FF",
			Services: []ServiceConfig{},
		},
	}
}

// WithName sets the GAP name reported by the peripheral
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.profile.Name = name
	return b
}

// WithAddress sets the peripheral address
func (b *PeripheralDeviceBuilder) WithAddress(addr string) *PeripheralDeviceBuilder {
	b.profile.Address = addr
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{UUID: uuid})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Address == "" {
		config.Address = b.profile.Address
	}
	b.profile = config
	return b
}

// WithStartNotificationsError makes every StartNotifications call fail with err
func (b *PeripheralDeviceBuilder) WithStartNotificationsError(err error) *PeripheralDeviceBuilder {
	b.startErr = err
	return b
}

// WithStopNotificationsError makes every StopNotifications call fail with err
func (b *PeripheralDeviceBuilder) WithStopNotificationsError(err error) *PeripheralDeviceBuilder {
	b.stopErr = err
	return b
}

// WithCloseError makes Close fail with err
func (b *PeripheralDeviceBuilder) WithCloseError(err error) *PeripheralDeviceBuilder {
	b.closeErr = err
	return b
}

// Build creates the fake peripheral
func (b *PeripheralDeviceBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		name:         b.profile.Name,
		address:      b.profile.Address,
		closeErr:     b.closeErr,
		disconnected: make(chan struct{}),
	}
	for _, sc := range b.profile.Services {
		svc := &fakeService{uuid: sc.UUID}
		for _, cc := range sc.Characteristics {
			svc.chars = append(svc.chars, &FakeCharacteristic{
				uuid:     cc.UUID,
				startErr: b.startErr,
				stopErr:  b.stopErr,
			})
		}
		p.services = append(p.services, svc)
	}
	return p
}

// FakePeripheral is an in-memory device.Peripheral.
// Tests push notifications with Emit and simulate link loss with Drop.
type FakePeripheral struct {
	name     string
	address  string
	services []*fakeService
	closeErr error

	mu           sync.Mutex
	closed       int
	dropOnce     sync.Once
	disconnected chan struct{}
}

func (p *FakePeripheral) Address() string { return p.address }
func (p *FakePeripheral) Name() string    { return p.name }

func (p *FakePeripheral) PrimaryService(uuid string) (device.Service, error) {
	for _, s := range p.services {
		if device.EqualUUID(s.uuid, uuid) {
			return s, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (p *FakePeripheral) Disconnected() <-chan struct{} {
	return p.disconnected
}

func (p *FakePeripheral) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return p.closeErr
}

// CloseCount returns how many times Close was called
func (p *FakePeripheral) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Drop simulates an unsolicited radio disconnect
func (p *FakePeripheral) Drop() {
	p.dropOnce.Do(func() { close(p.disconnected) })
}

// Characteristic returns the characteristic with the given UUID, or nil
func (p *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	for _, s := range p.services {
		for _, c := range s.chars {
			if device.EqualUUID(c.uuid, uuid) {
				return c
			}
		}
	}
	return nil
}

// Emit delivers a notification payload on the characteristic with the given UUID.
// It panics if the characteristic does not exist and reports false if nobody is subscribed.
func (p *FakePeripheral) Emit(charUUID string, data []byte) bool {
	c := p.Characteristic(charUUID)
	if c == nil {
		panic(fmt.Sprintf("FakePeripheral.Emit: no characteristic %s", charUUID))
	}
	return c.Emit(data)
}

type fakeService struct {
	uuid  string
	chars []*FakeCharacteristic
}

func (s *fakeService) UUID() string { return s.uuid }

func (s *fakeService) Characteristic(uuid string) (device.Characteristic, error) {
	for _, c := range s.chars {
		if device.EqualUUID(c.uuid, uuid) {
			return c, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

// FakeCharacteristic is an in-memory device.Characteristic
type FakeCharacteristic struct {
	uuid     string
	startErr error
	stopErr  error

	mu      sync.Mutex
	handler func([]byte)
	stopped int
}

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) StartNotifications(handler func([]byte)) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

func (c *FakeCharacteristic) StopNotifications() error {
	c.mu.Lock()
	c.handler = nil
	c.stopped++
	c.mu.Unlock()
	return c.stopErr
}

// Notifying reports whether a notification handler is installed
func (c *FakeCharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// StopCount returns how many times StopNotifications was called
func (c *FakeCharacteristic) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Emit delivers data to the subscribed handler. Reports false if nobody is subscribed.
func (c *FakeCharacteristic) Emit(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(append([]byte(nil), data...))
	return true
}

package testutils

import (
	"github.com/srg/pbit/internal/device"
)

// FakeAdvertisement is a static device.Advertisement
type FakeAdvertisement struct {
	Name          string
	Address       string
	Signal        int
	ServiceUUIDs  []string
	IsConnectable bool
}

func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) Addr() string       { return a.Address }
func (a *FakeAdvertisement) RSSI() int          { return a.Signal }
func (a *FakeAdvertisement) Services() []string { return a.ServiceUUIDs }
func (a *FakeAdvertisement) Connectable() bool  { return a.IsConnectable }

// AdvertisementBuilder builds fake advertisements with a fluent API.
// The builder starts with connectable=true.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{IsConnectable: true, Signal: -60}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Signal = rssi
	return b
}

// WithServices adds advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

// WithConnectable sets whether the advertisement is connectable.
func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.adv.IsConnectable = connectable
	return b
}

// Build returns the configured advertisement
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	adv.ServiceUUIDs = append([]string(nil), b.adv.ServiceUUIDs...)
	return &adv
}

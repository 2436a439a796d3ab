package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/reading"
)

// GATT endpoints exposed by P-Bit firmware
const (
	ModernServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	ModernCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"

	// Environmental Sensing service / Temperature characteristic, reused by older firmware for JSON payloads
	LegacyServiceUUID = "181a"
	LegacyCharUUID    = "2a6e"

	DefaultNamePrefix = "PBIT-"
)

// endpoint names the service/characteristic pair that carries one protocol
type endpoint struct {
	service        string
	characteristic string
}

var endpoints = map[reading.Protocol]endpoint{
	reading.ProtocolModern: {service: ModernServiceUUID, characteristic: ModernCharUUID},
	reading.ProtocolLegacy: {service: LegacyServiceUUID, characteristic: LegacyCharUUID},
}

// Policy selects how candidate devices are discovered and which protocols may be negotiated.
// It is fixed for the lifetime of a connection attempt.
type Policy int

const (
	// PolicyFiltered only accepts devices advertising the P-Bit name prefix and only
	// negotiates the modern protocol.
	PolicyFiltered Policy = iota
	// PolicyCompatible accepts any device and falls back to the legacy protocol.
	PolicyCompatible
)

func (p Policy) String() string {
	switch p {
	case PolicyFiltered:
		return "filtered"
	case PolicyCompatible:
		return "compatible"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Protocols returns the protocols usable under p, in preference order.
func (p Policy) Protocols() []reading.Protocol {
	switch p {
	case PolicyFiltered:
		return []reading.Protocol{reading.ProtocolModern}
	case PolicyCompatible:
		return []reading.Protocol{reading.ProtocolModern, reading.ProtocolLegacy}
	default:
		return nil
	}
}

// Options configures discovery and connection
type Options struct {
	NamePrefix     string        // name prefix required by PolicyFiltered
	DeviceAddress  string        // optional; restricts discovery to one address
	ScanTimeout    time.Duration // how long discovery may run
	ConnectTimeout time.Duration // dial and profile discovery timeout
	MailboxSize    int           // undecoded frames buffered between radio and pump

	// Now supplies decode timestamps; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns sensible defaults for connecting to a P-Bit
func DefaultOptions() *Options {
	return &Options{
		NamePrefix:     DefaultNamePrefix,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 30 * time.Second,
		MailboxSize:    64,
		Now:            time.Now,
	}
}

// Accepts reports whether an advertisement is a discovery candidate under p.
func (o *Options) Accepts(p Policy, adv device.Advertisement) bool {
	if !adv.Connectable() {
		return false
	}
	if o.DeviceAddress != "" && !strings.EqualFold(adv.Addr(), o.DeviceAddress) {
		return false
	}

	switch p {
	case PolicyFiltered:
		return strings.HasPrefix(adv.LocalName(), o.NamePrefix)
	case PolicyCompatible:
		return true
	default:
		return false
	}
}

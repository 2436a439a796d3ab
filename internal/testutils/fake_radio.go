package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/pbit/internal/device"
)

// FakeRadio is an in-memory device.Radio.
//
// Scan reports every configured advertisement and then blocks until its context ends,
// the way a real scan runs for its full window. Dial returns the peripheral registered
// under the requested address.
type FakeRadio struct {
	ScanErr error
	DialErr error

	mu          sync.Mutex
	ads         []device.Advertisement
	peripherals map[string]*FakePeripheral
	dials       []string
	scans       int
}

// NewFakeRadio creates a radio with nothing in range
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{peripherals: make(map[string]*FakePeripheral)}
}

// WithAdvertisements adds advertisements reported by every scan
func (r *FakeRadio) WithAdvertisements(ads ...device.Advertisement) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads = append(r.ads, ads...)
	return r
}

// WithPeripheral registers a peripheral reachable by Dial at its address
func (r *FakeRadio) WithPeripheral(p *FakePeripheral) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[strings.ToUpper(p.Address())] = p
	return r
}

// WithDevice registers p and an advertisement for it with the given local name
func (r *FakeRadio) WithDevice(localName string, p *FakePeripheral) *FakeRadio {
	r.WithPeripheral(p)
	return r.WithAdvertisements(NewAdvertisementBuilder().WithName(localName).WithAddress(p.Address()).Build())
}

func (r *FakeRadio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	ads := append([]device.Advertisement(nil), r.ads...)
	scanErr := r.ScanErr
	r.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range ads {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

func (r *FakeRadio) Dial(ctx context.Context, address string) (device.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials = append(r.dials, address)

	if r.DialErr != nil {
		return nil, r.DialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := r.peripherals[strings.ToUpper(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNoDeviceFound, address)
	}
	return p, nil
}

// Dials returns the addresses passed to Dial, in call order
func (r *FakeRadio) Dials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dials...)
}

// Scans returns how many scans were started
func (r *FakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/pbit/internal/reading"
)

// ErrProtocolNotSupported matches any *ProtocolNotSupportedError via errors.Is
var ErrProtocolNotSupported = errors.New("protocol not supported")

// Attempt is the outcome of negotiating one protocol with a connected peripheral
type Attempt struct {
	Protocol       reading.Protocol
	Service        string
	Characteristic string
	Err            error // nil when the protocol was established
}

// ProtocolNotSupportedError is returned when no protocol permitted by the policy could be established
type ProtocolNotSupportedError struct {
	Policy   Policy
	Device   string
	Attempts []Attempt
}

func (e *ProtocolNotSupportedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Protocol, a.Err))
	}
	return fmt.Sprintf("%s: device %q under %s discovery (%s)", ErrProtocolNotSupported, e.Device, e.Policy, strings.Join(parts, "; "))
}

// Is allows errors.Is(err, ErrProtocolNotSupported)
func (e *ProtocolNotSupportedError) Is(target error) bool {
	return target == ErrProtocolNotSupported
}

// Unwrap exposes the per-attempt failures
func (e *ProtocolNotSupportedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Package reading defines the normalized sensor sample produced from P-Bit radio frames
// and the two frame codecs that build it.
//
// Decoding is total: any byte input yields a Reading. Malformed frames degrade to a
// Reading that carries only its timestamp, so a single corrupt radio packet never
// interrupts the stream.
package reading

import (
	"math"
	"time"
)

// Reading is one decoded, timestamped sensor sample.
// Optional fields are nil when the frame did not carry them.
type Reading struct {
	Timestamp int64 `json:"timestamp"` // milliseconds since epoch, assigned at decode time

	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Light       *float64 `json:"light,omitempty"`
	Sound       *float64 `json:"sound,omitempty"`
	Battery     *float64 `json:"battery,omitempty"`

	// Legacy firmware only
	AirTemperature  *float64 `json:"air_temperature,omitempty"`
	SoilTemperature *float64 `json:"soil_temperature,omitempty"`
	AirHumidity     *float64 `json:"air_humidity,omitempty"`
	SoilHumidity    *float64 `json:"soil_humidity,omitempty"`
}

// newReading returns a timestamp-only reading.
func newReading(at time.Time) Reading {
	return Reading{Timestamp: at.UnixMilli()}
}

// Time returns the decode timestamp as a time.Time in UTC.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// IsEmpty reports whether no sensor field is set.
func (r Reading) IsEmpty() bool {
	for _, v := range r.fields() {
		if v != nil {
			return false
		}
	}
	return true
}

func (r Reading) fields() []*float64 {
	return []*float64{
		r.Temperature, r.Humidity, r.Light, r.Sound, r.Battery,
		r.AirTemperature, r.SoilTemperature, r.AirHumidity, r.SoilHumidity,
	}
}

// value returns a pointer to v, or nil when v is not a finite number.
func value(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

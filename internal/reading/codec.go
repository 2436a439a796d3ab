package reading

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Modern frame layout: marker, one reserved byte, then five [id u8][value u16 LE] records.
const (
	ModernFrameLen    = 17
	ModernFrameMarker = 0x02

	modernRecordOffset = 2
	modernRecordLen    = 3
	modernRecordCount  = 5
)

// Sensor ids carried in modern frame records
const (
	sensorTemperature byte = iota + 1
	sensorHumidity
	sensorLight
	sensorSound
	sensorBattery
)

// Protocol identifies the wire format negotiated with a device.
type Protocol int

const (
	ProtocolModern Protocol = iota
	ProtocolLegacy
)

func (p Protocol) String() string {
	switch p {
	case ProtocolModern:
		return "modern"
	case ProtocolLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Decode decodes data with the codec matching p.
// Unknown protocols decode to a timestamp-only reading.
func (p Protocol) Decode(data []byte, at time.Time) Reading {
	switch p {
	case ProtocolModern:
		return DecodeModernFrame(data, at)
	case ProtocolLegacy:
		return DecodeLegacyFrame(data, at)
	default:
		return newReading(at)
	}
}

// DecodeModernFrame decodes a 17-byte binary frame.
// Frames with the wrong length or marker yield a timestamp-only reading.
// Temperature and humidity are transmitted in tenths; unknown sensor ids are ignored.
func DecodeModernFrame(data []byte, at time.Time) Reading {
	r := newReading(at)
	if len(data) != ModernFrameLen || data[0] != ModernFrameMarker {
		return r
	}

	for i := 0; i < modernRecordCount; i++ {
		base := modernRecordOffset + i*modernRecordLen
		raw := float64(binary.LittleEndian.Uint16(data[base+1 : base+3]))

		switch data[base] {
		case sensorTemperature:
			r.Temperature = value(raw / 10)
		case sensorHumidity:
			r.Humidity = value(raw / 10)
		case sensorLight:
			r.Light = value(raw)
		case sensorSound:
			r.Sound = value(raw)
		case sensorBattery:
			r.Battery = value(raw)
		}
	}
	return r
}

// DecodeLegacyFrame decodes a JSON object sent by older firmware.
// Recognized keys are copied verbatim; a non-numeric value skips only its own key.
// Anything that is not a JSON object yields a timestamp-only reading.
func DecodeLegacyFrame(data []byte, at time.Time) Reading {
	r := newReading(at)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return r
	}

	targets := []struct {
		key string
		dst **float64
	}{
		{"temp", &r.Temperature},
		{"hum", &r.Humidity},
		{"ldr", &r.Light},
		{"mic", &r.Sound},
		{"batt", &r.Battery},
		{"air_temp", &r.AirTemperature},
		{"soil_temp", &r.SoilTemperature},
		{"air_hum", &r.AirHumidity},
		{"soil_hum", &r.SoilHumidity},
	}
	for _, t := range targets {
		raw, ok := obj[t.key]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil || v == nil {
			continue
		}
		*t.dst = value(*v)
	}
	return r
}

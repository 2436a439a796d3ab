package backend

import (
	"time"

	"github.com/srg/pbit/internal/reading"
)

// isoMillis is ISO-8601 UTC with millisecond precision, e.g. 2024-05-01T12:00:00.000Z
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type wireBatch struct {
	Readings []wireRecord `json:"readings"`
}

// wireRecord is one reading as the ingestion API expects it.
// Unresolved fields are sent as explicit nulls, never omitted.
type wireRecord struct {
	Timestamp    string   `json:"timestamp"`
	Temperature  *float64 `json:"temperature"`
	Thermometer  *float64 `json:"thermometer"`
	Humidity     *float64 `json:"humidity"`
	Moisture     *float64 `json:"moisture"`
	Light        *float64 `json:"light"`
	Sound        *float64 `json:"sound"`
	BatteryLevel *float64 `json:"battery_level"`
}

func newWireBatch(readings []reading.Reading) wireBatch {
	records := make([]wireRecord, 0, len(readings))
	for _, r := range readings {
		records = append(records, newWireRecord(r))
	}
	return wireBatch{Readings: records}
}

func newWireRecord(r reading.Reading) wireRecord {
	return wireRecord{
		Timestamp:    time.UnixMilli(r.Timestamp).UTC().Format(isoMillis),
		Temperature:  firstOf(r.Temperature, r.AirTemperature),
		Thermometer:  r.SoilTemperature,
		Humidity:     firstOf(r.Humidity, r.AirHumidity),
		Moisture:     r.SoilHumidity,
		Light:        r.Light,
		Sound:        r.Sound,
		BatteryLevel: r.Battery,
	}
}

func firstOf(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

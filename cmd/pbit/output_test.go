package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/srg/pbit/internal/reading"
	"github.com/srg/pbit/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestReadingPrinter_Format(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local).UnixMilli()
	p := newReadingPrinter(&bytes.Buffer{}, false)

	tests := []struct {
		name     string
		in       reading.Reading
		expected string
	}{
		{
			name: "modern reading",
			in: reading.Reading{
				Timestamp: ts, Temperature: testutils.F(21.5), Humidity: testutils.F(45),
				Light: testutils.F(300), Sound: testutils.F(40), Battery: testutils.F(90),
			},
			expected: "12:00:00.000  temp 21.5°C  hum 45.0%  light 300  sound 40  batt 90%",
		},
		{
			name:     "legacy soil reading",
			in:       reading.Reading{Timestamp: ts, SoilTemperature: testutils.F(14), SoilHumidity: testutils.F(33.3)},
			expected: "12:00:00.000  soil 14.0°C  soil_hum 33.3%",
		},
		{
			name:     "empty reading",
			in:       reading.Reading{Timestamp: ts},
			expected: "12:00:00.000  (no sensor values)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.format(tt.in))
		})
	}
}

func TestReadingPrinter_Colored(t *testing.T) {
	var buf bytes.Buffer
	p := newReadingPrinter(&buf, true)
	p.Print(reading.Reading{Timestamp: 0, Temperature: testutils.F(20)})

	assert.True(t, strings.Contains(buf.String(), "\x1b["), "expected ANSI escapes")
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

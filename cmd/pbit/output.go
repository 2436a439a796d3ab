package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/pbit/internal/reading"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readingPrinter prints one line per live reading
type readingPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	label *color.Color
	value *color.Color
	dim   *color.Color
}

func newReadingPrinter(out io.Writer, colored bool) *readingPrinter {
	p := &readingPrinter{
		out:   out,
		label: color.New(color.FgCyan),
		value: color.New(color.FgWhite, color.Bold),
		dim:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.label, p.value, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// field is one printable sensor value
type field struct {
	label  string
	value  *float64
	format string
}

func (p *readingPrinter) format(r reading.Reading) string {
	fields := []field{
		{"temp", r.Temperature, "%.1f°C"},
		{"hum", r.Humidity, "%.1f%%"},
		{"light", r.Light, "%.0f"},
		{"sound", r.Sound, "%.0f"},
		{"batt", r.Battery, "%.0f%%"},
		{"air", r.AirTemperature, "%.1f°C"},
		{"soil", r.SoilTemperature, "%.1f°C"},
		{"air_hum", r.AirHumidity, "%.1f%%"},
		{"soil_hum", r.SoilHumidity, "%.1f%%"},
	}

	var sb strings.Builder
	sb.WriteString(p.dim.Sprint(r.Time().Local().Format("15:04:05.000")))
	printed := 0
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(p.label.Sprint(f.label))
		sb.WriteString(" ")
		sb.WriteString(p.value.Sprintf(f.format, *f.value))
		printed++
	}
	if printed == 0 {
		sb.WriteString("  ")
		sb.WriteString(p.dim.Sprint("(no sensor values)"))
	}
	return sb.String()
}

// Print writes r as a single line. Safe for concurrent use.
func (p *readingPrinter) Print(r reading.Reading) {
	line := p.format(r)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

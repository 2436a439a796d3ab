package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> Ns)" with elapsed seconds on a single line.
// Stop must be called to terminate the internal goroutine; it is safe to call more than once.
type ProgressPrinter struct {
	out    io.Writer
	prefix string
	phase  string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a count-up progress printer writing to out
func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	return &ProgressPrinter{
		out:    out,
		prefix: prefix,
		phase:  phase,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins updating the progress line
func (p *ProgressPrinter) Start() {
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase)

	go func() {
		defer close(p.done)
		start := time.Now()
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if s := int(time.Since(start).Seconds()); s > 0 {
					fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.phase, s)
				}
			}
		}
	}()
}

// Stop clears the progress line
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}

// Package recorder buffers readings and periodically delivers them in batches to the
// ingestion backend.
//
// The buffer is bounded: appending beyond the cap drops the oldest readings. A batch is
// removed from the buffer only after the backend confirms it; readings appended while a
// delivery is in flight stay buffered for the next tick.
package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/groutine"
	"github.com/srg/pbit/internal/reading"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	BatchInterval = 10 * time.Second
	MaxBatchSize  = 50

	// DefaultDeviceName is reported when the connected device has no name
	DefaultDeviceName = "P-BIT"
)

// ErrNoSessionContext is returned by Flush when the credential or classroom id is missing
var ErrNoSessionContext = errors.New("no credential or classroom id available")

// SessionContext supplies delivery credentials. Either value may be empty while no
// classroom session exists; the recorder re-reads both on every flush.
type SessionContext interface {
	BearerToken() string
	ClassroomID() string
}

// Batch is one delivery unit, readings oldest first
type Batch struct {
	DeviceName  string
	ClassroomID string
	Token       string
	Readings    []reading.Reading
}

// Sender delivers a batch to the backend. A nil error means the backend accepted it.
type Sender interface {
	Send(ctx context.Context, batch Batch) error
}

// Options tunes the flush cadence and buffer cap
type Options struct {
	Interval time.Duration
	MaxSize  int
}

func DefaultOptions() *Options {
	return &Options{Interval: BatchInterval, MaxSize: MaxBatchSize}
}

// Stats are cumulative recorder counters
type Stats struct {
	Buffered  int    // readings currently buffered
	Delivered uint64 // readings confirmed by the backend
	Batches   uint64 // successful deliveries
	Failed    uint64 // failed delivery attempts
	Skipped   uint64 // ticks that attempted no delivery (missing session context or a delivery in flight)
	Dropped   uint64 // readings evicted by the cap
}

// Recorder accumulates readings and delivers them on a fixed interval
type Recorder struct {
	sender  Sender
	session SessionContext
	opts    *Options
	logger  *logrus.Logger

	mu         sync.Mutex
	buf        *orderedmap.OrderedMap[uint64, reading.Reading]
	seq        uint64
	deviceName string
	cancel     context.CancelFunc
	done       <-chan struct{}

	// cancelDeliveries aborts ticker deliveries still running when Stop's deadline passes
	cancelDeliveries context.CancelFunc

	inFlight atomic.Bool
	flushes  sync.WaitGroup

	delivered atomic.Uint64
	batches   atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a stopped recorder. Nil opts use DefaultOptions.
func New(sender Sender, session SessionContext, opts *Options, logger *logrus.Logger) *Recorder {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		sender:     sender,
		session:    session,
		opts:       opts,
		logger:     logger,
		buf:        orderedmap.New[uint64, reading.Reading](),
		deviceName: DefaultDeviceName,
	}
}

// SetDeviceName sets the device nickname sent with every batch. Empty restores the default.
func (r *Recorder) SetDeviceName(name string) {
	if name == "" {
		name = DefaultDeviceName
	}
	r.mu.Lock()
	r.deviceName = name
	r.mu.Unlock()
}

// Append buffers a reading, evicting the oldest beyond the cap.
func (r *Recorder) Append(rd reading.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.buf.Set(r.seq, rd)
	r.enforceCapLocked()
}

func (r *Recorder) enforceCapLocked() {
	for r.buf.Len() > r.opts.MaxSize {
		oldest := r.buf.Oldest()
		r.buf.Delete(oldest.Key)
		r.dropped.Add(1)
	}
}

// Len returns the number of buffered readings
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Snapshot returns a copy of the buffer, oldest first
func (r *Recorder) Snapshot() []reading.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	readings, _ := r.snapshotLocked()
	return readings
}

func (r *Recorder) snapshotLocked() ([]reading.Reading, []uint64) {
	readings := make([]reading.Reading, 0, r.buf.Len())
	keys := make([]uint64, 0, r.buf.Len())
	for pair := r.buf.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
		readings = append(readings, pair.Value)
	}
	return readings, keys
}

// IsRecording reports whether the flush timer is running
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Stats returns a copy of the recorder counters
func (r *Recorder) Stats() Stats {
	return Stats{
		Buffered:  r.Len(),
		Delivered: r.delivered.Load(),
		Batches:   r.batches.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Start begins periodic flushing. Calling Start on a running recorder does nothing.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, cancelDeliveries := context.WithCancel(context.Background())
	r.cancel = cancel
	r.cancelDeliveries = cancelDeliveries
	r.done = groutine.Go(ctx, "batch-recorder", func(ctx context.Context) {
		r.loop(ctx, deliveries)
	})

	r.logger.WithFields(logrus.Fields{
		"interval": r.opts.Interval,
		"max_size": r.opts.MaxSize,
	}).Info("Batch recording started")
}

func (r *Recorder) loop(ctx, deliveries context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(deliveries)
		}
	}
}

// tick starts a background delivery unless one is already in flight.
// Stop cancels an in-flight delivery only once its own deadline has passed.
func (r *Recorder) tick(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.logger.Debug("Previous batch delivery still in flight, skipping tick")
		return
	}

	r.flushes.Add(1)
	go func() {
		defer r.flushes.Done()
		defer r.inFlight.Store(false)
		_ = r.Flush(ctx)
	}()
}

// Flush attempts one delivery of the current buffer.
//
// Returns ErrNoSessionContext when credentials are missing, nil when the buffer is empty
// or the batch was accepted, and the sender's error otherwise. On failure the buffer is kept.
func (r *Recorder) Flush(ctx context.Context) error {
	token := r.session.BearerToken()
	classroom := r.session.ClassroomID()
	if token == "" || classroom == "" {
		r.skipped.Add(1)
		r.logger.WithField("buffered", r.Len()).Debug("No classroom session, batch delivery skipped")
		return ErrNoSessionContext
	}

	r.mu.Lock()
	readings, keys := r.snapshotLocked()
	name := r.deviceName
	r.mu.Unlock()

	if len(readings) == 0 {
		return nil
	}

	err := r.sender.Send(ctx, Batch{
		DeviceName:  name,
		ClassroomID: classroom,
		Token:       token,
		Readings:    readings,
	})
	if err != nil {
		r.failed.Add(1)
		r.mu.Lock()
		r.enforceCapLocked()
		r.mu.Unlock()
		r.logger.WithFields(logrus.Fields{
			"readings": len(readings),
			"error":    err,
		}).Error("Batch delivery failed, readings kept for retry")
		return err
	}

	r.mu.Lock()
	for _, k := range keys {
		r.buf.Delete(k)
	}
	r.mu.Unlock()

	r.delivered.Add(uint64(len(readings)))
	r.batches.Add(1)
	r.logger.WithFields(logrus.Fields{
		"readings":  len(readings),
		"classroom": classroom,
	}).Info("Batch delivered")
	return nil
}

// Stop cancels the flush timer, waits for an in-flight delivery, then makes one final
// best-effort flush. The buffer is cleared afterwards whatever the outcome.
// If ctx ends while a delivery is in flight, that delivery is cancelled and the final
// flush is skipped. Stop on a recorder that is not running does nothing.
func (r *Recorder) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel, done, cancelDeliveries := r.cancel, r.done, r.cancelDeliveries
	r.cancel, r.done, r.cancelDeliveries = nil, nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	defer cancelDeliveries()

	cancel()
	<-done

	if r.waitForDeliveries(ctx) {
		if err := r.Flush(ctx); err != nil {
			r.logger.WithField("error", err).Warn("Final batch flush failed, buffered readings discarded")
		}
	} else {
		cancelDeliveries()
		r.logger.WithFields(logrus.Fields{
			"buffered": r.Len(),
			"error":    ctx.Err(),
		}).Warn("Stop deadline passed during a batch delivery, delivery cancelled and final flush skipped")
	}

	r.mu.Lock()
	discarded := r.buf.Len()
	r.buf = orderedmap.New[uint64, reading.Reading]()
	r.mu.Unlock()

	r.logger.WithField("discarded", discarded).Info("Batch recording stopped")
}

// waitForDeliveries waits for ticker deliveries to finish. Reports false if ctx ended first.
func (r *Recorder) waitForDeliveries(ctx context.Context) bool {
	idle := make(chan struct{})
	go func() {
		r.flushes.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

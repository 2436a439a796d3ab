// Package session is the entry point for callers: it connects a P-Bit, records its
// readings in batches and fans them out to live subscribers.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/bus"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/reading"
	"github.com/srg/pbit/internal/recorder"
	"github.com/srg/pbit/internal/transport"
)

// Options bundles the transport and recorder settings
type Options struct {
	Transport *transport.Options
	Recorder  *recorder.Options
}

// Manager coordinates one device session. Each Manager owns its own transport,
// recorder and bus.
type Manager struct {
	logger   *logrus.Logger
	nego     *transport.Negotiator
	recorder *recorder.Recorder
	bus      *bus.Bus

	// accepting gates the transport sink; cleared before the recorder's final flush
	acceptMu  sync.RWMutex
	accepting bool
}

// NewManager wires a session over radio. Batches go to sender using credentials from sessionCtx.
func NewManager(radio device.Radio, sender recorder.Sender, sessionCtx recorder.SessionContext, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &Options{}
	}

	m := &Manager{
		logger:   logger,
		nego:     transport.NewNegotiator(radio, opts.Transport, logger),
		recorder: recorder.New(sender, sessionCtx, opts.Recorder, logger),
		bus:      bus.New(logger),
	}
	m.nego.OnConnectionLost(m.connectionLost)
	return m
}

// ConnectFiltered connects to the first P-Bit advertising the name prefix, modern protocol only.
func (m *Manager) ConnectFiltered(ctx context.Context) (transport.ConnectionInfo, error) {
	return m.connect(ctx, transport.PolicyFiltered)
}

// ConnectCompatible connects to any device and falls back to the legacy protocol.
func (m *Manager) ConnectCompatible(ctx context.Context) (transport.ConnectionInfo, error) {
	return m.connect(ctx, transport.PolicyCompatible)
}

func (m *Manager) connect(ctx context.Context, policy transport.Policy) (transport.ConnectionInfo, error) {
	m.setAccepting(true)
	info, err := m.nego.Connect(ctx, policy, m.handle)
	if err != nil {
		return transport.ConnectionInfo{}, fmt.Errorf("failed to connect to P-Bit: %w", err)
	}

	m.recorder.SetDeviceName(info.Name)
	m.recorder.Start()
	return info, nil
}

// handle is the transport sink: buffer for delivery, then notify live subscribers.
// Frames decoded after Stop began are discarded.
func (m *Manager) handle(r reading.Reading) {
	m.acceptMu.RLock()
	ok := m.accepting
	if ok {
		m.recorder.Append(r)
	}
	m.acceptMu.RUnlock()

	if !ok {
		m.logger.Debug("Reading arrived after the session stopped, discarded")
		return
	}
	m.bus.Publish(r)
}

func (m *Manager) setAccepting(v bool) {
	m.acceptMu.Lock()
	m.accepting = v
	m.acceptMu.Unlock()
}

// StartRecordingAfterDeviceAdded starts batch recording if it is not already running.
func (m *Manager) StartRecordingAfterDeviceAdded() {
	m.recorder.Start()
}

func (m *Manager) IsConnected() bool {
	return m.nego.IsConnected()
}

func (m *Manager) IsRecording() bool {
	return m.recorder.IsRecording()
}

// Info returns the live connection handle, if any
func (m *Manager) Info() (transport.ConnectionInfo, bool) {
	return m.nego.Info()
}

// Stats returns the batch recorder counters
func (m *Manager) Stats() recorder.Stats {
	return m.recorder.Stats()
}

// Subscribe registers a live reading handler. The returned function unsubscribes it.
func (m *Manager) Subscribe(handler func(reading.Reading)) func() {
	return m.bus.Subscribe(handler)
}

// Stop flushes the recorder, then tears down the connection.
// The final flush runs before the radio is released.
func (m *Manager) Stop(ctx context.Context) {
	m.setAccepting(false)
	m.recorder.Stop(ctx)
	m.nego.Stop()
}

func (m *Manager) connectionLost(info transport.ConnectionInfo) {
	m.logger.WithFields(logrus.Fields{
		"connection_id": info.ID,
		"name":          info.Name,
	}).Warn("P-Bit disconnected unexpectedly, stopping session")
	m.setAccepting(false)
	m.recorder.Stop(context.Background())
}

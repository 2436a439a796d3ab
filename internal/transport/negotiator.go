package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/device"
	"github.com/srg/pbit/internal/groutine"
	"github.com/srg/pbit/internal/reading"
)

// stopWaitTimeout bounds how long Stop waits for the frame pump to exit
const stopWaitTimeout = 2 * time.Second

// State is the negotiator's position in the connection state machine
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateNegotiatingProtocol
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateNegotiatingProtocol:
		return "negotiating_protocol"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionInfo describes the live connection handle
type ConnectionInfo struct {
	ID          string
	Name        string
	Address     string
	Protocol    reading.Protocol
	Policy      Policy
	ConnectedAt time.Time
}

// connection is the live radio session owned by a Negotiator
type connection struct {
	info       ConnectionInfo
	peripheral device.Peripheral
	char       device.Characteristic
	mailbox    *RingChannel[[]byte]

	cancel   context.CancelFunc
	pumpDone <-chan struct{}
}

// Negotiator discovers a P-Bit, negotiates its wire protocol and streams decoded readings.
// At most one connection is live at a time.
type Negotiator struct {
	radio  device.Radio
	opts   *Options
	logger *logrus.Logger

	mu     sync.Mutex
	state  State
	conn   *connection
	onLost func(ConnectionInfo)
}

// NewNegotiator creates a negotiator over radio. Nil opts use DefaultOptions.
func NewNegotiator(radio device.Radio, opts *Options, logger *logrus.Logger) *Negotiator {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultOptions().MailboxSize
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Negotiator{
		radio:  radio,
		opts:   opts,
		logger: logger,
		state:  StateIdle,
	}
}

// OnConnectionLost registers a hook invoked when the radio link drops without Stop being called.
// The hook runs before the negotiator tears the connection down.
func (n *Negotiator) OnConnectionLost(hook func(ConnectionInfo)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onLost = hook
}

// State returns the current state
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsConnected reports whether a connection is streaming
func (n *Negotiator) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

// Info returns the live connection handle, if any
func (n *Negotiator) Info() (ConnectionInfo, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return ConnectionInfo{}, false
	}
	return n.conn.info, true
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Connect discovers a device under policy, opens a connection and negotiates a protocol.
// Every decoded reading is passed to sink, in arrival order, from a single goroutine.
//
// Returns device.ErrAlreadyConnected if a connection is live or being established, and a
// *ProtocolNotSupportedError when no protocol permitted by policy could be established.
func (n *Negotiator) Connect(ctx context.Context, policy Policy, sink func(reading.Reading)) (ConnectionInfo, error) {
	if sink == nil {
		return ConnectionInfo{}, fmt.Errorf("no reading sink specified")
	}

	n.mu.Lock()
	switch n.state {
	case StateDiscovering, StateConnecting, StateNegotiatingProtocol, StateStreaming:
		state := n.state
		n.mu.Unlock()
		return ConnectionInfo{}, &device.ConnectionError{State: device.AlreadyConnected, Msg: state.String()}
	}
	n.state = StateDiscovering
	n.mu.Unlock()

	n.logger.WithField("policy", policy).Info("Discovering P-Bit device...")
	adv, err := n.discover(ctx, policy)
	if err != nil {
		n.setState(StateDisconnected)
		return ConnectionInfo{}, err
	}

	n.setState(StateConnecting)
	n.logger.WithFields(logrus.Fields{
		"address": adv.Addr(),
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
	}).Info("Connecting to device...")

	dialCtx, cancelDial := context.WithTimeout(ctx, n.opts.ConnectTimeout)
	peripheral, err := n.radio.Dial(dialCtx, adv.Addr())
	cancelDial()
	if err != nil {
		n.setState(StateDisconnected)
		return ConnectionInfo{}, fmt.Errorf("failed to connect to %s: %w", adv.Addr(), err)
	}

	n.setState(StateNegotiatingProtocol)
	mailbox := NewRingChannel[[]byte](n.opts.MailboxSize)
	proto, char, attempts := n.negotiate(peripheral, policy, mailbox)
	if char == nil {
		if closeErr := peripheral.Close(); closeErr != nil {
			n.logger.WithField("error", closeErr).Warn("Failed to close connection after negotiation failure")
		}
		n.setState(StateDisconnected)
		return ConnectionInfo{}, &ProtocolNotSupportedError{Policy: policy, Device: adv.Addr(), Attempts: attempts}
	}

	name := adv.LocalName()
	if name == "" {
		name = peripheral.Name()
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		info: ConnectionInfo{
			ID:          uuid.NewString(),
			Name:        name,
			Address:     adv.Addr(),
			Protocol:    proto,
			Policy:      policy,
			ConnectedAt: n.opts.Now(),
		},
		peripheral: peripheral,
		char:       char,
		mailbox:    mailbox,
		cancel:     cancel,
	}

	n.mu.Lock()
	n.conn = conn
	n.state = StateStreaming
	n.mu.Unlock()

	conn.pumpDone = groutine.Go(pumpCtx, "pbit-frame-pump", func(ctx context.Context) {
		n.pump(ctx, conn, sink)
	})
	groutine.Go(pumpCtx, "pbit-disconnect-monitor", func(ctx context.Context) {
		n.monitor(ctx, conn)
	})

	n.logger.WithFields(logrus.Fields{
		"connection_id": conn.info.ID,
		"address":       conn.info.Address,
		"name":          conn.info.Name,
		"protocol":      conn.info.Protocol,
	}).Info("P-Bit connected, streaming readings")
	return conn.info, nil
}

// discover scans until the first advertisement accepted by policy, or the scan timeout
func (n *Negotiator) discover(ctx context.Context, policy Policy) (device.Advertisement, error) {
	scanCtx, cancel := context.WithTimeout(ctx, n.opts.ScanTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found device.Advertisement
	)
	err := n.radio.Scan(scanCtx, func(adv device.Advertisement) {
		if !n.opts.Accepts(policy, adv) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found == nil {
			found = adv
			cancel()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w under %s discovery within %s", device.ErrNoDeviceFound, policy, n.opts.ScanTimeout)
}

// negotiate tries each protocol permitted by policy in preference order.
// Returns the established protocol and characteristic, or a nil characteristic with every attempt's failure.
func (n *Negotiator) negotiate(p device.Peripheral, policy Policy, mailbox *RingChannel[[]byte]) (reading.Protocol, device.Characteristic, []Attempt) {
	var attempts []Attempt
	for _, proto := range policy.Protocols() {
		ep := endpoints[proto]
		char, err := n.establish(p, ep, mailbox)
		attempts = append(attempts, Attempt{
			Protocol:       proto,
			Service:        ep.service,
			Characteristic: ep.characteristic,
			Err:            err,
		})
		if err == nil {
			return proto, char, attempts
		}
		n.logger.WithFields(logrus.Fields{
			"protocol": proto,
			"error":    err,
		}).Debug("Protocol not available on device")
	}
	return 0, nil, attempts
}

// establish resolves the endpoint and starts notifications into mailbox
func (n *Negotiator) establish(p device.Peripheral, ep endpoint, mailbox *RingChannel[[]byte]) (device.Characteristic, error) {
	svc, err := p.PrimaryService(ep.service)
	if err != nil {
		return nil, err
	}
	char, err := svc.Characteristic(ep.characteristic)
	if err != nil {
		return nil, err
	}
	if err := char.StartNotifications(mailbox.ForceSend); err != nil {
		return nil, err
	}
	return char, nil
}

// pump decodes frames from the mailbox and hands readings to sink until ctx is cancelled
func (n *Negotiator) pump(ctx context.Context, conn *connection, sink func(reading.Reading)) {
	for {
		select {
		case <-ctx.Done():
			if dropped := conn.mailbox.Dropped(); dropped > 0 {
				n.logger.WithField("dropped_frames", dropped).Warn("Frames were dropped because decoding fell behind")
			}
			return
		case data := <-conn.mailbox.C():
			r := conn.info.Protocol.Decode(data, n.opts.Now())
			if r.IsEmpty() {
				n.logger.WithFields(logrus.Fields{
					"protocol": conn.info.Protocol,
					"bytes":    len(data),
				}).Debug("Frame carried no sensor values")
			}
			n.deliver(sink, r)
		}
	}
}

// deliver calls sink, recovering from panics so one bad reading cannot stop the stream
func (n *Negotiator) deliver(sink func(reading.Reading), r reading.Reading) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.WithField("panic", rec).Error("Reading sink panicked")
		}
	}()
	sink(r)
}

// monitor tears the connection down when the radio reports an unsolicited disconnect
func (n *Negotiator) monitor(ctx context.Context, conn *connection) {
	select {
	case <-ctx.Done():
		return
	case <-conn.peripheral.Disconnected():
	}

	n.mu.Lock()
	current := n.conn == conn
	hook := n.onLost
	n.mu.Unlock()
	if !current {
		return
	}

	n.logger.WithFields(logrus.Fields{
		"connection_id": conn.info.ID,
		"address":       conn.info.Address,
	}).Warn("Radio link lost, tearing down connection")

	if hook != nil {
		hook(conn.info)
	}
	n.Stop()
}

// Stop tears down the live connection. It is idempotent and best-effort: each teardown
// step's failure is logged and swallowed, and all handles are always reset.
func (n *Negotiator) Stop() {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	if conn != nil || n.state == StateStreaming {
		n.state = StateDisconnected
	}
	n.mu.Unlock()

	if conn == nil {
		n.logger.Debug("Stop called but no connection is live")
		return
	}

	n.logger.WithField("connection_id", conn.info.ID).Info("Disconnecting P-Bit...")
	conn.cancel()

	if err := conn.char.StopNotifications(); err != nil {
		n.logger.WithField("error", err).Warn("Failed to stop notifications during teardown")
	}
	if err := conn.peripheral.Close(); err != nil {
		n.logger.WithField("error", err).Warn("Failed to close connection during teardown")
	}

	select {
	case <-conn.pumpDone:
	case <-time.After(stopWaitTimeout):
		n.logger.Warn("Frame pump did not exit in time")
	}

	n.logger.WithField("connection_id", conn.info.ID).Info("P-Bit disconnected")
}

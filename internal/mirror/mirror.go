// Package mirror republishes live readings to an MQTT broker.
//
// Readings are queued in a bounded overlapped ring so a slow or unreachable broker never
// blocks the reading pipeline; when the ring is full the oldest queued readings are
// overwritten.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/groutine"
	"github.com/srg/pbit/internal/reading"
)

const (
	DefaultTopic          = "pbit"
	DefaultQueueLen       = 256
	DefaultConnectTimeout = 10 * time.Second

	publishTimeout = 5 * time.Second
)

// ErrConnectTimeout is returned by Start when the broker does not accept the connection in time
var ErrConnectTimeout = errors.New("mqtt connect timed out")

// Publisher is the part of mqtt.Client used by the mirror
type Publisher interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Config describes the broker connection
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string // readings go to <Topic>/<device name>
	ClientID string
	QoS      byte
	QueueLen uint32

	ConnectTimeout time.Duration // bounds the first connect in Start
}

// NewClient builds a paho client for cfg. The first connect fails fast when the broker
// is unreachable; once connected, lost connections are re-established automatically.
func NewClient(cfg Config, logger *logrus.Logger) mqtt.Client {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("MQTT mirror connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithFields(logrus.Fields{
			"broker": cfg.Broker,
			"error":  err,
		}).Warn("MQTT connection lost")
	})

	return mqtt.NewClient(opts)
}

// message is a queued reading together with the device it came from
type message struct {
	device  string
	reading reading.Reading
}

// Mirror forwards readings to MQTT. Use Handle as a reading bus subscriber.
type Mirror struct {
	client Publisher
	cfg    Config
	logger *logrus.Logger

	queue mpmc.RichOverlappedRingBuffer[message]
	wake  chan struct{}

	mu         sync.Mutex
	deviceName string
	cancel     context.CancelFunc
	done       <-chan struct{}

	published   atomic.Uint64
	failed      atomic.Uint64
	overwritten atomic.Uint64
}

// New creates a stopped mirror publishing through client
func New(client Publisher, cfg Config, logger *logrus.Logger) *Mirror {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.QueueLen == 0 {
		cfg.QueueLen = DefaultQueueLen
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Mirror{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		queue:      mpmc.NewOverlappedRingBuffer[message](cfg.QueueLen),
		wake:       make(chan struct{}, 1),
		deviceName: "unknown",
	}
}

// SetDeviceName sets the topic suffix for subsequent readings
func (m *Mirror) SetDeviceName(name string) {
	if name == "" {
		return
	}
	m.mu.Lock()
	m.deviceName = name
	m.mu.Unlock()
}

// Topic returns the topic readings from device are published on
func (m *Mirror) Topic(device string) string {
	return strings.TrimSuffix(m.cfg.Topic, "/") + "/" + device
}

// Start connects to the broker and begins draining the queue.
// The connect wait ends at ConnectTimeout or when ctx ends, whichever comes first;
// on failure the client is disconnected so it stops retrying in the background.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		m.client.Disconnect(0)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	drainCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = groutine.Go(drainCtx, "mqtt-mirror", m.drain)

	// readings queued before the connection was up
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *Mirror) connect(ctx context.Context) error {
	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s (broker %s)", ErrConnectTimeout, m.cfg.ConnectTimeout, m.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Handle queues r for publishing. It never blocks.
func (m *Mirror) Handle(r reading.Reading) {
	m.mu.Lock()
	name := m.deviceName
	m.mu.Unlock()

	overwrites, err := m.queue.EnqueueM(message{device: name, reading: r})
	if err != nil {
		m.failed.Add(1)
		m.logger.WithField("error", err).Warn("Failed to queue reading for MQTT")
		return
	}
	if overwrites > 0 {
		m.overwritten.Add(uint64(overwrites))
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mirror) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.flush()
			return
		case <-m.wake:
			m.flush()
		}
	}
}

// flush publishes everything currently queued
func (m *Mirror) flush() {
	for !m.queue.IsEmpty() {
		msg, err := m.queue.Dequeue()
		if err != nil {
			return
		}
		m.publish(msg)
	}
}

func (m *Mirror) publish(msg message) {
	topic := m.Topic(msg.device)
	payload, err := json.Marshal(msg.reading)
	if err != nil {
		m.failed.Add(1)
		m.logger.WithField("error", err).Warn("Failed to marshal reading for MQTT")
		return
	}

	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.failed.Add(1)
		m.logger.WithField("topic", topic).Warn("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		m.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err,
		}).Warn("MQTT publish failed")
		return
	}

	m.published.Add(1)
	m.logger.WithField("topic", topic).Debug("Reading mirrored to MQTT")
}

// Stop publishes what is still queued, then disconnects. Idempotent.
func (m *Mirror) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.client.Disconnect(250)
	m.logger.WithField("published", m.published.Load()).Info("MQTT mirror stopped")
}

// Stats reports how many readings were published, failed and overwritten in the queue
func (m *Mirror) Stats() (published, failed, overwritten uint64) {
	return m.published.Load(), m.failed.Load(), m.overwritten.Load()
}

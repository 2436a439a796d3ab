package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/pbit/internal/mirror"
	"github.com/srg/pbit/internal/recorder"
	"github.com/srg/pbit/internal/transport"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values
const (
	EnvToken       = "PBIT_TOKEN"
	EnvClassroomID = "PBIT_CLASSROOM_ID"
	EnvAPIBaseURL  = "PBIT_API_BASE_URL"
	EnvMQTTBroker  = "PBIT_MQTT_BROKER"
)

// Config holds application configuration
type Config struct {
	LogLevel      string `yaml:"log_level" default:"info"`
	LogFile       string `yaml:"log_file"` // empty logs to stderr
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" default:"10"`
	LogMaxBackups int    `yaml:"log_max_backups" default:"3"`

	NamePrefix     string        `yaml:"name_prefix" default:"PBIT-"`
	DeviceAddress  string        `yaml:"device_address"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	MailboxSize    int           `yaml:"mailbox_size" default:"64"`

	APIBaseURL    string        `yaml:"api_base_url" default:"http://127.0.0.1:5000/"`
	HTTPTimeout   time.Duration `yaml:"http_timeout" default:"30s"`
	BatchInterval time.Duration `yaml:"batch_interval" default:"10s"`
	MaxBatchSize  int           `yaml:"max_batch_size" default:"50"`
	Token         string        `yaml:"token"`
	ClassroomID   string        `yaml:"classroom_id"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional live mirror. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic" default:"pbit"`
	ClientID string `yaml:"client_id" default:"pbit-recorder"`
	QoS      byte   `yaml:"qos" default:"0"`
	QueueLen uint32 `yaml:"queue_len" default:"256"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds a configuration from defaults, then the YAML file at path (if path is not
// empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and endpoints from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvToken, &c.Token},
		{EnvClassroomID, &c.ClassroomID},
		{EnvAPIBaseURL, &c.APIBaseURL},
		{EnvMQTTBroker, &c.MQTT.Broker},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.target = v
		}
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"scan_timeout", c.ScanTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"http_timeout", c.HTTPTimeout},
		{"batch_interval", c.BatchInterval},
		{"mqtt.connect_timeout", c.MQTT.ConnectTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.MailboxSize <= 0 {
		errs = append(errs, fmt.Errorf("mailbox_size must be positive, got %d", c.MailboxSize))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.Broker != "" && !strings.Contains(c.MQTT.Broker, "://") {
		errs = append(errs, fmt.Errorf("mqtt.broker must include a scheme, e.g. tcp://%s", c.MQTT.Broker))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger creates a configured logger instance.
// With log_file set, output goes to a size-rotated file instead of stderr.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSizeMB,
			MaxBackups: c.LogMaxBackups,
			Compress:   true,
		})
	}

	return logger
}

// TransportOptions returns the discovery and connection settings
func (c *Config) TransportOptions() *transport.Options {
	opts := transport.DefaultOptions()
	opts.NamePrefix = c.NamePrefix
	opts.DeviceAddress = c.DeviceAddress
	opts.ScanTimeout = c.ScanTimeout
	opts.ConnectTimeout = c.ConnectTimeout
	opts.MailboxSize = c.MailboxSize
	return opts
}

// RecorderOptions returns the batch cadence and cap
func (c *Config) RecorderOptions() *recorder.Options {
	return &recorder.Options{Interval: c.BatchInterval, MaxSize: c.MaxBatchSize}
}

// MirrorEnabled reports whether an MQTT broker is configured
func (c *Config) MirrorEnabled() bool {
	return c.MQTT.Broker != ""
}

// MirrorConfig returns the MQTT mirror settings
func (c *Config) MirrorConfig() mirror.Config {
	return mirror.Config{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		QoS:      c.MQTT.QoS,
		QueueLen: c.MQTT.QueueLen,

		ConnectTimeout: c.MQTT.ConnectTimeout,
	}
}

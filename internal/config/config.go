package config

import (
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "netsync.json"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":7777"

	// DefaultTickRate is the default simulation step.
	DefaultTickRate = "16ms"

	// DefaultCapturePrefix is the default object key prefix for captures.
	DefaultCapturePrefix = "captures/"
)

// Config represents the complete netsync.json configuration.
type Config struct {
	// Listen is the HTTP listen address serving /ws, /metrics, /healthz and
	// /peers.
	Listen string `json:"listen,omitempty"`

	// TickRate is the duration of one simulation tick (e.g., "16ms").
	TickRate string `json:"tickRate,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`

	// Transport contains packet transport settings.
	Transport TransportConfig `json:"transport,omitempty"`

	// Ping contains round-trip estimation settings.
	Ping PingConfig `json:"ping,omitempty"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Capture contains traffic capture settings.
	Capture CaptureConfig `json:"capture,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// TransportConfig contains packet transport settings.
type TransportConfig struct {
	// SendInterval throttles packet flushes; "0s" flushes every tick.
	SendInterval string `json:"sendInterval,omitempty"`

	// MaxPacketSize is the largest payload sent in one websocket frame.
	MaxPacketSize int `json:"maxPacketSize,omitempty"`

	// PacketHistory is the number of sent packets remembered for acks.
	PacketHistory int `json:"packetHistory,omitempty"`

	// MaxPacketRate caps the packets per second accepted from one peer.
	// Bursts of half a second are allowed. Zero uses the default.
	MaxPacketRate int `json:"maxPacketRate,omitempty"`
}

// PingConfig contains round-trip estimation settings.
type PingConfig struct {
	// Interval is the time between pings (e.g., "100ms").
	Interval string `json:"interval,omitempty"`

	// StatsWindow is how long samples count towards RTT and jitter.
	StatsWindow string `json:"statsWindow,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty"`

	// Disabled turns off /metrics and metric collection.
	Disabled bool `json:"disabled,omitempty"`
}

// CaptureConfig contains traffic capture settings.
type CaptureConfig struct {
	// Enabled records per-peer packet logs.
	Enabled bool `json:"enabled,omitempty"`

	// Bucket receives one object per disconnected peer.
	Bucket string `json:"bucket,omitempty"`

	// Dir receives captures on local disk when Bucket is empty. Captures
	// are discarded when both are empty.
	Dir string `json:"dir,omitempty"`

	// Prefix is prepended to every object key.
	Prefix string `json:"prefix,omitempty"`

	// Region overrides the AWS region from the environment.
	Region string `json:"region,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Listen:   DefaultListen,
		TickRate: DefaultTickRate,
		LogLevel: "info",
		Transport: TransportConfig{
			SendInterval:  "0s",
			MaxPacketSize: 1200,
			PacketHistory: 256,
			MaxPacketRate: 240,
		},
		Ping: PingConfig{
			Interval:    "100ms",
			StatsWindow: "2s",
		},
		Metrics: MetricsConfig{
			Namespace: "netsync",
		},
		Capture: CaptureConfig{
			Prefix: DefaultCapturePrefix,
		},
	}
}

// Load reads netsync.json from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path. Missing
// fields keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E123").
				WithDetail("No netsync.json found at " + path).
				WithSuggestion("Run 'netsyncd config init' to write the default configuration")
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to parse netsync.json: " + err.Error()).
			WithSuggestion("Check that netsync.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Marshal returns the indented JSON form of the configuration.
func (c *Config) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.New("E120").Wrap(err)
	}
	return append(data, '\n'), nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	def := New()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.TickRate == "" {
		c.TickRate = def.TickRate
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	// Transport
	if c.Transport.SendInterval == "" {
		c.Transport.SendInterval = def.Transport.SendInterval
	}
	if c.Transport.MaxPacketSize == 0 {
		c.Transport.MaxPacketSize = def.Transport.MaxPacketSize
	}
	if c.Transport.PacketHistory == 0 {
		c.Transport.PacketHistory = def.Transport.PacketHistory
	}
	if c.Transport.MaxPacketRate == 0 {
		c.Transport.MaxPacketRate = def.Transport.MaxPacketRate
	}

	// Ping
	if c.Ping.Interval == "" {
		c.Ping.Interval = def.Ping.Interval
	}
	if c.Ping.StatsWindow == "" {
		c.Ping.StatsWindow = def.Ping.StatsWindow
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Capture.Prefix == "" {
		c.Capture.Prefix = def.Capture.Prefix
	}
}

func parseDuration(field, value string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.New("E121").
			WithDetail(field + " is not a duration: " + value).
			WithSuggestion(`Use a Go duration string such as "16ms" or "2s"`)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, errors.New("E121").WithDetail(field + " must be positive")
	}
	return d, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New("E122").
			WithDetail("listen: " + err.Error()).
			WithSuggestion(`Use host:port, for example ":7777"`)
	}
	checks := []struct {
		field     string
		value     string
		allowZero bool
	}{
		{"tickRate", c.TickRate, false},
		{"transport.sendInterval", c.Transport.SendInterval, true},
		{"ping.interval", c.Ping.Interval, false},
		{"ping.statsWindow", c.Ping.StatsWindow, false},
	}
	for _, ch := range checks {
		if _, err := parseDuration(ch.field, ch.value, ch.allowZero); err != nil {
			return err
		}
	}
	if c.Transport.MaxPacketSize < 64 || c.Transport.MaxPacketSize > 65535 {
		return errors.New("E121").WithDetail("transport.maxPacketSize must be between 64 and 65535")
	}
	if c.Transport.PacketHistory < 1 {
		return errors.New("E121").WithDetail("transport.packetHistory must be positive")
	}
	if c.Transport.MaxPacketRate < 1 {
		return errors.New("E121").WithDetail("transport.maxPacketRate must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Capture.Enabled && c.Capture.Bucket != "" && strings.HasPrefix(c.Capture.Prefix, "/") {
		return errors.New("E121").WithDetail("capture.prefix must not start with /")
	}
	return nil
}

// TickDuration returns the parsed tick rate. Call Validate first.
func (c *Config) TickDuration() time.Duration {
	d, _ := time.ParseDuration(c.TickRate)
	return d
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.New("E121").
			WithDetail("logLevel: " + c.LogLevel).
			WithSuggestion("Use one of debug, info, warn, error")
	}
	return level, nil
}

// ServerConfig builds the connection manager configuration. Call Validate
// first; unparsable durations fall back to the server defaults.
func (c *Config) ServerConfig() *server.Config {
	cfg := server.DefaultConfig()
	if d, err := time.ParseDuration(c.Transport.SendInterval); err == nil {
		cfg.Transport.SendInterval = d
	}
	cfg.Transport.MaxPacketSize = c.Transport.MaxPacketSize
	cfg.Transport.PacketHistory = c.Transport.PacketHistory
	if d, err := time.ParseDuration(c.Ping.Interval); err == nil && d > 0 {
		cfg.Ping.PingInterval = d
	}
	if d, err := time.ParseDuration(c.Ping.StatsWindow); err == nil && d > 0 {
		cfg.Ping.StatsWindow = d
	}
	return cfg
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a Manager.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "netsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "server").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// RTTBuckets are the histogram buckets for round-trip times in seconds.
	RTTBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRTTBuckets sets the RTT histogram buckets.
func WithRTTBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.RTTBuckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:  "netsync",
		Subsystem:  "server",
		RTTBuckets: []float64{.005, .01, .025, .05, .1, .2, .35, .5, 1},
		Registry:   prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors of a Manager. A nil *Metrics
// records nothing.
type Metrics struct {
	connectedClients    prometheus.Gauge
	messagesBuffered    *prometheus.CounterVec
	messagesRebroadcast prometheus.Counter
	replicationMessages *prometheus.CounterVec
	updateAcks          prometheus.Counter
	inputsMissed        prometheus.Counter
	packetsSent         prometheus.Counter
	packetsReceived     prometheus.Counter
	bytesSent           prometheus.Counter
	bytesReceived       prometheus.Counter
	decodeErrors        prometheus.Counter
	invariantViolations prometheus.Counter
	rtt                 prometheus.Histogram
}

// NewMetrics registers the collectors.
//
// Metrics collected:
//   - netsync_server_connected_clients: Gauge of live connections
//   - netsync_server_messages_buffered_total: Counter of messages by channel
//   - netsync_server_messages_rebroadcast_total: Counter of relayed messages
//   - netsync_server_replication_messages_total: Counter by kind (actions, updates)
//   - netsync_server_update_acks_total: Counter of acknowledged updates messages
//   - netsync_server_inputs_missed_total: Counter of pops served by fallback or nothing
//   - netsync_server_packets_{sent,received}_total, netsync_server_bytes_{sent,received}_total
//   - netsync_server_decode_errors_total: Counter of undecodable envelopes
//   - netsync_server_invariant_violations_total: Counter of fatal contract breaks
//   - netsync_server_rtt_seconds: Histogram of ping round trips
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_clients",
			Help:        "Number of live peer connections",
			ConstLabels: config.ConstLabels,
		}),
		messagesBuffered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_buffered_total",
			Help:        "Total number of messages buffered for sending, by channel",
			ConstLabels: config.ConstLabels,
		}, []string{"channel"}),
		messagesRebroadcast: counter("messages_rebroadcast_total", "Total number of received messages relayed to other peers"),
		replicationMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "replication_messages_total",
			Help:        "Total number of replication messages sent, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
		updateAcks:          counter("update_acks_total", "Total number of acknowledged replication updates messages"),
		inputsMissed:        counter("inputs_missed_total", "Total number of input pops without input for the exact tick"),
		packetsSent:         counter("packets_sent_total", "Total number of packets sent"),
		packetsReceived:     counter("packets_received_total", "Total number of packets received"),
		bytesSent:           counter("bytes_sent_total", "Total number of packet bytes sent"),
		bytesReceived:       counter("bytes_received_total", "Total number of packet bytes received"),
		decodeErrors:        counter("decode_errors_total", "Total number of received envelopes that failed to decode"),
		invariantViolations: counter("invariant_violations_total", "Total number of internal invariant violations"),
		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rtt_seconds",
			Help:        "Ping round-trip time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.RTTBuckets,
		}),
	}
}

func (m *Metrics) setConnected(n int) {
	if m != nil {
		m.connectedClients.Set(float64(n))
	}
}

func (m *Metrics) recordBuffered(channel string) {
	if m != nil {
		m.messagesBuffered.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) recordRebroadcast() {
	if m != nil {
		m.messagesRebroadcast.Inc()
	}
}

func (m *Metrics) recordReplication(updates bool) {
	if m == nil {
		return
	}
	kind := "actions"
	if updates {
		kind = "updates"
	}
	m.replicationMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordUpdateAcks(n int) {
	if m != nil && n > 0 {
		m.updateAcks.Add(float64(n))
	}
}

func (m *Metrics) recordInputMissed() {
	if m != nil {
		m.inputsMissed.Inc()
	}
}

func (m *Metrics) recordSent(packets, bytes int) {
	if m != nil {
		m.packetsSent.Add(float64(packets))
		m.bytesSent.Add(float64(bytes))
	}
}

func (m *Metrics) recordReceived(bytes int) {
	if m != nil {
		m.packetsReceived.Inc()
		m.bytesReceived.Add(float64(bytes))
	}
}

func (m *Metrics) recordDecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) recordInvariantViolation() {
	if m != nil {
		m.invariantViolations.Inc()
	}
}

func (m *Metrics) observeRTT(rtt time.Duration) {
	if m != nil {
		m.rtt.Observe(rtt.Seconds())
	}
}

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a dispatcher.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "carpool").
	Namespace string

	// Subsystem is the metrics subsystem (default: "realtime").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

func WithMetricsSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "carpool",
		Subsystem: "realtime",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the dispatcher collectors. A nil *Metrics records nothing, so every method is
// safe to call when metrics are disabled.
type Metrics struct {
	connects          prometheus.Counter
	reconnectAttempts prometheus.Counter
	disconnects       *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	connected         prometheus.Gauge
	connectDuration   prometheus.Histogram
}

// NewMetrics registers the dispatcher collectors. Each dispatcher needs its own registry, or
// distinct const labels, to avoid duplicate registration.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connects_total",
			Help:        "Total number of successfully opened connections",
			ConstLabels: config.ConstLabels,
		}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of scheduled reconnection attempts",
			ConstLabels: config.ConstLabels,
		}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Total number of lost or closed connections by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total number of envelopes written to the transport by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Total number of envelopes received by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_dropped_total",
			Help:        "Total number of dropped envelopes by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "outbound_queue_depth",
			Help:        "Number of envelopes waiting for a connection",
			ConstLabels: config.ConstLabels,
		}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected",
			Help:        "1 while the connection is open, 0 otherwise",
			ConstLabels: config.ConstLabels,
		}),

		connectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connect_duration_seconds",
			Help:        "Time spent dialling the endpoint",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) recordConnect(seconds float64) {
	if m == nil {
		return
	}
	m.connects.Inc()
	m.connected.Set(1)
	m.connectDuration.Observe(seconds)
}

func (m *Metrics) recordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) recordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.connected.Set(0)
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordSent(t EnvelopeType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) recordReceived(t EnvelopeType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(metricTypeLabel(t)).Inc()
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// metricTypeLabel folds unknown types into one label value to keep cardinality bounded.
func metricTypeLabel(t EnvelopeType) string {
	if t.Known() {
		return string(t)
	}
	return "unknown"
}

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Read results recorded by LinkMetrics.
const (
	ResultAccepted = "accepted"
	ResultStale    = "stale"
	ResultEmpty    = "empty"
	ResultError    = "error"
	ResultSkipped  = "skipped"
	ResultSent     = "sent"
)

// LinkMetrics holds Prometheus collectors for one controller link.
// A nil *LinkMetrics is valid and records nothing.
type LinkMetrics struct {
	reads        *prometheus.CounterVec
	writes       *prometheus.CounterVec
	configErrors *prometheus.CounterVec
	connected    prometheus.Gauge
	state        prometheus.Gauge
	detections   prometheus.Gauge
}

// NewLinkMetrics creates the link collectors and registers them on reg.
// The link name becomes a constant label so several links can share a
// registry.
func NewLinkMetrics(reg prometheus.Registerer, link string) (*LinkMetrics, error) {
	labels := prometheus.Labels{"link": link}
	m := &LinkMetrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "reads_total",
			Help:        "Channel polls by outcome",
			ConstLabels: labels,
		}, []string{"channel", "result"}),

		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "writes_total",
			Help:        "Channel publishes by outcome",
			ConstLabels: labels,
		}, []string{"channel", "result"}),

		configErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "config_errors_total",
			Help:        "Configuration encode and decode failures",
			ConstLabels: labels,
		}, []string{"kind"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "connected",
			Help:        "1 if the co-processor pinged within the timeout",
			ConstLabels: labels,
		}),

		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "state",
			Help:        "Last reported co-processor state code",
			ConstLabels: labels,
		}),

		detections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "moenet",
			Subsystem:   "link",
			Name:        "detections",
			Help:        "Number of objects in the current detection batch",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{m.reads, m.writes, m.configErrors, m.connected, m.state, m.detections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Read records the outcome of polling a channel.
func (m *LinkMetrics) Read(channel, result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(channel, result).Inc()
}

// Write records the outcome of publishing on a channel.
func (m *LinkMetrics) Write(channel, result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(channel, result).Inc()
}

// ConfigError counts a configuration failure of the given kind ("decode" or
// "encode").
func (m *LinkMetrics) ConfigError(kind string) {
	if m == nil {
		return
	}
	m.configErrors.WithLabelValues(kind).Inc()
}

// Observe records the sampled connection state, state code and detection count.
func (m *LinkMetrics) Observe(connected bool, state int, detections int) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
	m.state.Set(float64(state))
	m.detections.Set(float64(detections))
}

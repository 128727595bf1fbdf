// Package fixmetrics exports Prometheus metrics for the FIX engine.
package fixmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gofix"
	subsystem = "session"
)

// Label names for session metrics.
const (
	labelSessionID = "session_id"
)

// -------------------------------------------------------------------------
// Collector — Prometheus FIX Metrics
// -------------------------------------------------------------------------

// Collector holds all FIX Prometheus metrics.
//
// Metrics are designed for production trading-infrastructure monitoring:
//   - Session gauges track configured and logged-on sessions.
//   - Message counters track per-session traffic volumes.
//   - Resend, reject, and disconnect counters flag protocol trouble for
//     alerting.
type Collector struct {
	// Sessions tracks the number of configured sessions.
	Sessions *prometheus.GaugeVec

	// LoggedOn is 1 while the session handshake is complete.
	LoggedOn *prometheus.GaugeVec

	// MessagesSent counts messages handed to the transport per session.
	MessagesSent *prometheus.CounterVec

	// MessagesReceived counts framed inbound messages per session.
	MessagesReceived *prometheus.CounterVec

	// ResendRequests counts ResendRequests issued per session.
	ResendRequests *prometheus.CounterVec

	// Rejects counts session-level and business rejects sent per session.
	Rejects *prometheus.CounterVec

	// Disconnects counts transport teardowns per session.
	Disconnects *prometheus.CounterVec
}

// NewCollector creates a Collector with all FIX metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "gofix_session_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.LoggedOn,
		c.MessagesSent,
		c.MessagesReceived,
		c.ResendRequests,
		c.Rejects,
		c.Disconnects,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	labels := []string{labelSessionID}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "configured",
			Help:      "Number of configured FIX sessions.",
		}, labels),

		LoggedOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "logged_on",
			Help:      "1 while the session is logged on.",
		}, labels),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total messages handed to the transport.",
		}, labels),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total framed inbound messages.",
		}, labels),

		ResendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resend_requests_total",
			Help:      "Total ResendRequests issued.",
		}, labels),

		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejects_total",
			Help:      "Total rejects sent.",
		}, labels),

		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "disconnects_total",
			Help:      "Total transport disconnects.",
		}, labels),
	}
}

// -------------------------------------------------------------------------
// fix.MetricsReporter implementation
// -------------------------------------------------------------------------

// RegisterSession implements fix.MetricsReporter.
func (c *Collector) RegisterSession(sessionID string) {
	c.Sessions.WithLabelValues(sessionID).Set(1)
	c.LoggedOn.WithLabelValues(sessionID).Set(0)
}

// UnregisterSession implements fix.MetricsReporter.
func (c *Collector) UnregisterSession(sessionID string) {
	c.Sessions.DeleteLabelValues(sessionID)
	c.LoggedOn.DeleteLabelValues(sessionID)
}

// SetLoggedOn implements fix.MetricsReporter.
func (c *Collector) SetLoggedOn(sessionID string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	c.LoggedOn.WithLabelValues(sessionID).Set(v)
}

// IncMessagesSent implements fix.MetricsReporter.
func (c *Collector) IncMessagesSent(sessionID string) {
	c.MessagesSent.WithLabelValues(sessionID).Inc()
}

// IncMessagesReceived implements fix.MetricsReporter.
func (c *Collector) IncMessagesReceived(sessionID string) {
	c.MessagesReceived.WithLabelValues(sessionID).Inc()
}

// IncResendRequests implements fix.MetricsReporter.
func (c *Collector) IncResendRequests(sessionID string) {
	c.ResendRequests.WithLabelValues(sessionID).Inc()
}

// IncRejects implements fix.MetricsReporter.
func (c *Collector) IncRejects(sessionID string) {
	c.Rejects.WithLabelValues(sessionID).Inc()
}

// IncDisconnects implements fix.MetricsReporter.
func (c *Collector) IncDisconnects(sessionID string) {
	c.Disconnects.WithLabelValues(sessionID).Inc()
}

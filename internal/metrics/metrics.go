// Package metrics collects gateway telemetry. It wraps Prometheus
// collectors for session lifecycle, message traffic and cache behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Send results recorded by RecordSend.
const (
	SendOK        = "ok"
	SendRejected  = "rejected"
	SendThrottled = "throttled"
	SendFailed    = "failed"
)

// Collector is the gateway metrics surface.
type Collector interface {
	RecordSessionStart()
	RecordSessionEnd()
	RecordAuthFailure()
	RecordChannelOpen(fromCache bool)
	RecordSend(result string)
	RecordWindowUpdate()
	RecordRosterUpdate()
	RecordHistoryPage()
	RecordReadMark()
}

// PrometheusCollector backs the Collector interface with a dedicated
// Prometheus registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	sessions      prometheus.Gauge
	sessionsTotal prometheus.Counter
	authFailures  prometheus.Counter
	channelOpens  *prometheus.CounterVec
	sends         *prometheus.CounterVec
	windowUpdates prometheus.Counter
	rosterUpdates prometheus.Counter
	historyPages  prometheus.Counter
	readMarks     prometheus.Counter
}

// NewPrometheusCollector creates a collector with its own registry.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "chatd"
	}

	c := &PrometheusCollector{registry: prometheus.NewRegistry()}

	c.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Currently connected chat sessions",
	})
	c.sessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total accepted chat sessions",
	})
	c.authFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Total rejected connection attempts",
	})
	c.channelOpens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_opens_total",
		Help:      "Total conversation opens by first-render source",
	}, []string{"source"})
	c.sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Total send attempts by result",
	}, []string{"result"})
	c.windowUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "window_updates_total",
		Help:      "Total conversation window updates pushed to clients",
	})
	c.rosterUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "roster_updates_total",
		Help:      "Total roster updates pushed to clients",
	})
	c.historyPages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_pages_total",
		Help:      "Total history pages served",
	})
	c.readMarks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_marks_total",
		Help:      "Total mark-read requests accepted",
	})

	c.registry.MustRegister(
		c.sessions,
		c.sessionsTotal,
		c.authFailures,
		c.channelOpens,
		c.sends,
		c.windowUpdates,
		c.rosterUpdates,
		c.historyPages,
		c.readMarks,
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an http.Handler serving the collected metrics.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *PrometheusCollector) RecordSessionStart() {
	c.sessions.Inc()
	c.sessionsTotal.Inc()
}

func (c *PrometheusCollector) RecordSessionEnd() { c.sessions.Dec() }

func (c *PrometheusCollector) RecordAuthFailure() { c.authFailures.Inc() }

func (c *PrometheusCollector) RecordChannelOpen(fromCache bool) {
	source := "store"
	if fromCache {
		source = "cache"
	}
	c.channelOpens.WithLabelValues(source).Inc()
}

func (c *PrometheusCollector) RecordSend(result string) {
	c.sends.WithLabelValues(result).Inc()
}

func (c *PrometheusCollector) RecordWindowUpdate() { c.windowUpdates.Inc() }

func (c *PrometheusCollector) RecordRosterUpdate() { c.rosterUpdates.Inc() }

func (c *PrometheusCollector) RecordHistoryPage() { c.historyPages.Inc() }

func (c *PrometheusCollector) RecordReadMark() { c.readMarks.Inc() }

// NoOp discards all metrics.
type NoOp struct{}

func (NoOp) RecordSessionStart()              {}
func (NoOp) RecordSessionEnd()                {}
func (NoOp) RecordAuthFailure()               {}
func (NoOp) RecordChannelOpen(fromCache bool) {}
func (NoOp) RecordSend(result string)         {}
func (NoOp) RecordWindowUpdate()              {}
func (NoOp) RecordRosterUpdate()              {}
func (NoOp) RecordHistoryPage()               {}
func (NoOp) RecordReadMark()                  {}

var (
	_ Collector = (*PrometheusCollector)(nil)
	_ Collector = NoOp{}
)

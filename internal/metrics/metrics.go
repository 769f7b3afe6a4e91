// Package metrics provides the Prometheus collectors exported by the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// LLMBuckets covers upstream latencies from 100ms to two minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Upstream call modes and outcomes.
const (
	ModeUnary     = "unary"
	ModeStreaming = "streaming"

	OutcomeOK              = "ok"
	OutcomeConnectionError = "connection_error"
	OutcomeStatusError     = "status_error"
)

// Stream event kinds.
const (
	EventChunk = "chunk"
	EventError = "error"
	EventDone  = "done"
)

// Metrics owns a private registry so several servers (and tests) can coexist
// in one process. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
	malformedEvents prometheus.Counter
	activeStreams   prometheus.Gauge
}

// New registers the gateway collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"endpoint", "stream", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   LLMBuckets,
			},
			[]string{"endpoint", "stream"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Calls made to the upstream API",
			},
			[]string{"mode", "outcome"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Events written to streaming clients",
			},
			[]string{"kind"},
		),
		malformedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_malformed_events_total",
				Help:      "Upstream stream events that could not be parsed",
			},
		),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streams_active",
				Help:      "Streaming responses currently in flight",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.upstreamCalls,
		m.streamEvents,
		m.malformedEvents,
		m.activeStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(endpoint string, stream bool, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	streamLabel := strconv.FormatBool(stream)
	m.requests.WithLabelValues(endpoint, streamLabel, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint, streamLabel).Observe(elapsed.Seconds())
}

// UpstreamCall records the outcome of one upstream call.
func (m *Metrics) UpstreamCall(mode, outcome string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(mode, outcome).Inc()
}

// StreamEvent records an event written to a streaming client.
func (m *Metrics) StreamEvent(kind string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(kind).Inc()
}

// MalformedEvent records a skipped upstream event.
func (m *Metrics) MalformedEvent() {
	if m == nil {
		return
	}
	m.malformedEvents.Inc()
}

// StreamStarted bumps the active stream gauge; call the returned func when
// the stream ends.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

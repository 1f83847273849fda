package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without a collector in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec
	RequestSize      *prometheus.HistogramVec
	ResponseSize     *prometheus.HistogramVec

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsReused   prometheus.Counter
	SessionsReaped   *prometheus.CounterVec
	ProcessExits     *prometheus.CounterVec
	ProvisionFailure *prometheus.CounterVec
	PTYOutputBytes   prometheus.Counter

	// WebSocket metrics
	WSConnections  prometheus.Gauge
	WSMessages     *prometheus.CounterVec
	WSAuthFailures prometheus.Counter
	WSDropped      prometheus.Counter

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_http_requests_in_flight",
				Help: "Number of HTTP requests being served, upgraded streams excluded",
			},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Service metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_service_calls_total",
				Help: "Total number of internal service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_service_duration_seconds",
				Help:    "Internal service call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_sessions_active",
				Help: "Number of live terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_sessions_created_total",
				Help: "Total number of terminal sessions created",
			},
		),
		SessionsReused: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_sessions_reused_total",
				Help: "Create requests answered with an existing session",
			},
		),
		SessionsReaped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_sessions_reaped_total",
				Help: "Total number of sessions torn down",
			},
			[]string{"reason"},
		),
		ProcessExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_process_exits_total",
				Help: "Shell process exits by kind",
			},
			[]string{"kind"},
		),
		ProvisionFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_provisioning_failures_total",
				Help: "OS account provisioning failures",
			},
			[]string{"operation"},
		),
		PTYOutputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_pty_output_bytes_total",
				Help: "Bytes read from pseudo-terminals",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSAuthFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_ws_auth_failures_total",
				Help: "Handshakes rejected before upgrade",
			},
		),
		WSDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_ws_dropped_total",
				Help: "Outbound messages dropped for slow connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "termhost_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordHTTPUpgrade counts a request that was handed off to a WebSocket.
// Its duration is the stream lifetime, so no histograms are observed.
func (m *Metrics) RecordHTTPUpgrade(method, path, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// AddInFlight moves the in-flight request gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

// RecordServiceCall records a service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the sessions created counter
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// IncSessionsReused increments the reused session counter
func (m *Metrics) IncSessionsReused() {
	if m == nil {
		return
	}
	m.SessionsReused.Inc()
}

// RecordSessionReaped records a teardown with its trigger
func (m *Metrics) RecordSessionReaped(reason string) {
	if m == nil {
		return
	}
	m.SessionsReaped.WithLabelValues(reason).Inc()
}

// RecordProcessExit records a shell exit; kind is "code" or "signal"
func (m *Metrics) RecordProcessExit(kind string) {
	if m == nil {
		return
	}
	m.ProcessExits.WithLabelValues(kind).Inc()
}

// RecordProvisionFailure records a failed account operation
func (m *Metrics) RecordProvisionFailure(operation string) {
	if m == nil {
		return
	}
	m.ProvisionFailure.WithLabelValues(operation).Inc()
}

// AddPTYOutput adds n bytes to the PTY output counter
func (m *Metrics) AddPTYOutput(n int) {
	if m == nil {
		return
	}
	m.PTYOutputBytes.Add(float64(n))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// IncWSAuthFailures counts a rejected handshake
func (m *Metrics) IncWSAuthFailures() {
	if m == nil {
		return
	}
	m.WSAuthFailures.Inc()
}

// IncWSDropped counts an outbound message dropped for a slow connection
func (m *Metrics) IncWSDropped() {
	if m == nil {
		return
	}
	m.WSDropped.Inc()
}

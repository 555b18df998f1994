package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay outcomes.
const (
	OutcomeRelayed   = "relayed"
	OutcomeFailed    = "failed"
	OutcomeUntrusted = "untrusted"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)

// Metrics holds all Prometheus metrics. Every instance owns its registry,
// so tests and multiple servers in one process do not collide. All record
// methods accept a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Relay metrics
	RelayFrames   *prometheus.CounterVec
	RelayDuration prometheus.Histogram
	RelayStatus   *prometheus.CounterVec
	Announcements prometheus.Counter
	Refreshes     prometheus.Counter

	// Embed metrics
	EmbedsActive prometheus.Gauge
	EmbedsTotal  *prometheus.CounterVec

	// Telemetry metrics
	Polls *prometheus.CounterVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests int64   `json:"totalRequests"`
	TotalErrors   int64   `json:"totalErrors"`
	Relayed       int64   `json:"relayed"`
	RelayFailures int64   `json:"relayFailures"`
	Dropped       int64   `json:"dropped"`
	ActiveEmbeds  int64   `json:"activeEmbeds"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gamelab_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RelayFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_relay_frames_total",
				Help: "Inbound bridge frames by outcome",
			},
			[]string{"outcome"},
		),
		RelayDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gamelab_relay_duration_seconds",
				Help:    "Backend call duration for relayed requests",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		RelayStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_relay_status_total",
				Help: "Backend status codes returned through the relay",
			},
			[]string{"code"},
		),
		Announcements: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gamelab_session_announcements_total",
				Help: "Session ids broadcast after session creation",
			},
		),
		Refreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gamelab_telemetry_refreshes_total",
				Help: "Debounced telemetry refreshes fired by the relay",
			},
		),

		EmbedsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gamelab_embeds_active",
				Help: "Number of running embeds",
			},
		),
		EmbedsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_embeds_total",
				Help: "Embed creation attempts by result",
			},
			[]string{"result"},
		),

		Polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_telemetry_polls_total",
				Help: "Telemetry polls by result",
			},
			[]string{"result"},
		),

		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gamelab_ws_connections",
				Help: "Number of active WebSocket connections",
			},
			[]string{"kind"},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gamelab_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "kind"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "gamelab_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status >= 400 {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordFrame records the fate of one inbound bridge frame.
func (m *Metrics) RecordFrame(outcome string) {
	if m == nil {
		return
	}
	m.RelayFrames.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	switch outcome {
	case OutcomeRelayed:
		m.snapshot.Relayed++
	case OutcomeFailed, OutcomeRejected:
		m.snapshot.RelayFailures++
	default:
		m.snapshot.Dropped++
	}
	m.mu.Unlock()
}

// RecordRelay records a completed backend call.
func (m *Metrics) RecordRelay(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RelayDuration.Observe(duration.Seconds())
	m.RelayStatus.WithLabelValues(strconv.Itoa(status)).Inc()
}

// IncAnnouncements counts a session announcement.
func (m *Metrics) IncAnnouncements() {
	if m == nil {
		return
	}
	m.Announcements.Inc()
}

// IncRefreshes counts a debounced telemetry refresh.
func (m *Metrics) IncRefreshes() {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
}

// RecordPoll counts a telemetry poll.
func (m *Metrics) RecordPoll(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Polls.WithLabelValues(result).Inc()
}

// RecordEmbedCreated counts an embed creation attempt.
func (m *Metrics) RecordEmbedCreated(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EmbedsTotal.WithLabelValues(result).Inc()
}

// SetEmbedsActive sets the number of running embeds
func (m *Metrics) SetEmbedsActive(count int) {
	if m == nil {
		return
	}
	m.EmbedsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveEmbeds = int64(count)
	m.mu.Unlock()
}

// WSConnected tracks a websocket of the given kind until the returned
// func is called.
func (m *Metrics) WSConnected(kind string) func() {
	if m == nil {
		return func() {}
	}
	g := m.WSConnections.WithLabelValues(kind)
	g.Inc()
	var once sync.Once
	return func() { once.Do(g.Dec) }
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

// Snapshot returns the current counters for the JSON API.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

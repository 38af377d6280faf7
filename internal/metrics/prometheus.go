package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels for command outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics collects and exposes server metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	activeConnections prometheus.Gauge
	queueDepth        prometheus.Gauge
	keys              prometheus.Gauge
	members           prometheus.Gauge
	resizing          prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zindex_commands_total",
			Help: "Commands executed, by command and status",
		}, []string{"command", "status"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zindex_command_duration_seconds",
			Help:    "Time spent executing a command on the executor",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1},
		}, []string{"command"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zindex_errors_total",
			Help: "Transport and protocol errors, by kind",
		}, []string{"kind"}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "zindex_active_connections",
			Help: "Current active connections",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "zindex_executor_queue_depth",
			Help: "Requests waiting for the executor",
		}),
		keys: f.NewGauge(prometheus.GaugeOpts{
			Name: "zindex_keys",
			Help: "Sorted sets in the keyspace",
		}),
		members: f.NewGauge(prometheus.GaugeOpts{
			Name: "zindex_members",
			Help: "Members across all sorted sets",
		}),
		resizing: f.NewGauge(prometheus.GaugeOpts{
			Name: "zindex_hash_indexes_resizing",
			Help: "Hash indexes with a migration in progress",
		}),
		startTime: time.Now(),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "zindex_uptime_seconds",
		Help: "Time since server started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })
	return m
}

// RecordCommand records one executed command.
func (m *Metrics) RecordCommand(command, status string, latency time.Duration) {
	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(latency.Seconds())
}

// RecordError records a transport or protocol error.
func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// ConnectionOpened increments active connections.
func (m *Metrics) ConnectionOpened() {
	m.activeConnections.Inc()
}

// ConnectionClosed decrements active connections.
func (m *Metrics) ConnectionClosed() {
	m.activeConnections.Dec()
}

// SetQueueDepth reports the executor backlog.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetKeyspace reports keyspace totals.
func (m *Metrics) SetKeyspace(keys, members, resizing int) {
	m.keys.Set(float64(keys))
	m.members.Set(float64(members))
	m.resizing.Set(float64(resizing))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

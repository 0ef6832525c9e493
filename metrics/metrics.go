// Package metrics exposes docpipe's Prometheus collectors.
//
// Every Metrics value owns its registry, so tests and multiple servers in one
// process never collide on registration. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docpipe"

// Metrics holds all docpipe Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Fetch-parse-emit
	FetchParseTotal    *prometheus.CounterVec
	FetchParseDuration *prometheus.HistogramVec
	SessionsOpen       prometheus.Gauge
	ItemsInFlight      prometheus.Gauge
	EmitTotal          *prometheus.CounterVec

	// Jobs
	JobsSubmitted prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobsRunning   prometheus.Gauge
	JobDuration   prometheus.Histogram

	// RPC surface
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
	RateLimited prometheus.Counter
	ConfigSaves *prometheus.CounterVec

	// Extensions
	ExtensionsLoaded prometheus.Gauge
}

// New creates metrics on a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates metrics registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}
	f := promauto.With(reg)
	initPipelineMetrics(m, f)
	initJobMetrics(m, f)
	initRPCMetrics(m, f)
	return m
}

func initPipelineMetrics(m *Metrics, f promauto.Factory) {
	m.FetchParseTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_parse_total",
		Help:      "Fetch-and-parse items by result status",
	}, []string{"status"})

	m.FetchParseDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_parse_duration_seconds",
		Help:      "Time to fetch and parse one document",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})

	m.SessionsOpen = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_open",
		Help:      "Open bidirectional fetch-and-parse sessions",
	})

	m.ItemsInFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "items_in_flight",
		Help:      "Fetch-and-parse items currently being processed in sessions",
	})

	m.EmitTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emit_total",
		Help:      "Emitter invocations by result",
	}, []string{"result"})

	m.ExtensionsLoaded = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "extensions_loaded",
		Help:      "Extensions currently registered",
	})
}

func initJobMetrics(m *Metrics, f promauto.Factory) {
	m.JobsSubmitted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Pipe jobs accepted for execution",
	})

	m.JobsFinished = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Pipe jobs reaching a terminal state, by result",
	}, []string{"result"})

	m.JobsRunning = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_running",
		Help:      "Pipe jobs currently executing",
	})

	m.JobDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of finished pipe jobs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	})
}

func initRPCMetrics(m *Metrics, f promauto.Factory) {
	m.RPCRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "RPC calls by method and status code",
	}, []string{"method", "code"})

	m.RPCDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_duration_seconds",
		Help:      "RPC call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	m.RateLimited = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_rate_limited_total",
		Help:      "RPC calls rejected by the rate limiter",
	})

	m.ConfigSaves = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_saves_total",
		Help:      "Extension config saves by kind",
	}, []string{"kind"})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetchParse records one finished fetch-and-parse
func (m *Metrics) ObserveFetchParse(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchParseTotal.WithLabelValues(status).Inc()
	m.FetchParseDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveEmit records one emitter call
func (m *Metrics) ObserveEmit(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EmitTotal.WithLabelValues(result).Inc()
}

// SessionOpened and SessionClosed track open bidirectional sessions
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsOpen.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsOpen.Dec()
	}
}

// ItemStarted and ItemDone track items dispatched inside sessions
func (m *Metrics) ItemStarted() {
	if m != nil {
		m.ItemsInFlight.Inc()
	}
}

func (m *Metrics) ItemDone() {
	if m != nil {
		m.ItemsInFlight.Dec()
	}
}

// JobStarted records a job entering execution
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobSubmitted records an accepted submission
func (m *Metrics) JobSubmitted() {
	if m != nil {
		m.JobsSubmitted.Inc()
	}
}

// JobFinished records a job reaching a terminal state
func (m *Metrics) JobFinished(hasError bool, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	result := "completed"
	if hasError {
		result = "failed"
	}
	m.JobsFinished.WithLabelValues(result).Inc()
	m.JobDuration.Observe(d.Seconds())
}

// ObserveRPC records one RPC call
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RateLimitHit records a rejected call
func (m *Metrics) RateLimitHit() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

// ConfigSaved records an extension config save
func (m *Metrics) ConfigSaved(kind string) {
	if m != nil {
		m.ConfigSaves.WithLabelValues(kind).Inc()
	}
}

// SetExtensionsLoaded sets the number of registered extensions
func (m *Metrics) SetExtensionsLoaded(n int) {
	if m != nil {
		m.ExtensionsLoaded.Set(float64(n))
	}
}

// Package metrics provides Prometheus metrics for the analyzer.
//
// All Record and Observe methods are no-ops on a nil *Metrics, so components
// can be built without instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeCompleted        = "completed"
	OutcomeInvalid          = "invalid"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomeError            = "error"
)

// File dispositions.
const (
	FileAnalysed = "analysed"
	FileSkipped  = "skipped"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	FilesTotal      *prometheus.CounterVec
	PolishTotal     *prometheus.CounterVec
	PolishDuration  *prometheus.HistogramVec
	JobsQueued      prometheus.Gauge
	JobsActive      prometheus.Gauge
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	SweptTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_runs_total",
				Help: "Total pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "analyzer_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyzer_stage_duration_seconds",
				Help:    "Duration of individual pipeline stages.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		FilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_files_total",
				Help: "Files seen by triage, by disposition and kind.",
			},
			[]string{"disposition", "kind"},
		),
		PolishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_polish_total",
				Help: "Summary polish calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		PolishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyzer_polish_duration_seconds",
				Help:    "Summary polish latency including retries.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		JobsQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "analyzer_jobs_queued",
				Help: "Jobs waiting for a worker.",
			},
		),
		JobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "analyzer_jobs_active",
				Help: "Jobs currently running.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_http_requests_total",
				Help: "HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyzer_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		SweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyzer_swept_total",
				Help: "Stale work directories and uploads removed by the sweeper.",
			},
			[]string{"kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RunsTotal)
	reg.MustRegister(m.RunDuration)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.FilesTotal)
	reg.MustRegister(m.PolishTotal)
	reg.MustRegister(m.PolishDuration)
	reg.MustRegister(m.JobsQueued)
	reg.MustRegister(m.JobsActive)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.SweptTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun counts a finished run and its duration.
func (m *Metrics) RecordRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(seconds)
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordFile counts one triaged file. kind is empty for skipped files.
func (m *Metrics) RecordFile(disposition, kind string) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(disposition, kind).Inc()
}

// RecordPolish counts one polish call.
func (m *Metrics) RecordPolish(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PolishTotal.WithLabelValues(provider, outcome).Inc()
	m.PolishDuration.WithLabelValues(provider).Observe(seconds)
}

// SetJobs sets the job queue gauges.
func (m *Metrics) SetJobs(queued, active int) {
	if m == nil {
		return
	}
	m.JobsQueued.Set(float64(queued))
	m.JobsActive.Set(float64(active))
}

// RecordRequest counts one HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// RecordSwept counts n removed entries of the given kind.
func (m *Metrics) RecordSwept(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptTotal.WithLabelValues(kind).Add(float64(n))
}

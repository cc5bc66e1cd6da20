// Package metrics exposes the Prometheus collectors of the risk service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	QuestionsTotal   *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	Queued           prometheus.Gauge
	StoreCalls       *prometheus.CounterVec
	StoreDuration    prometheus.Histogram
	StoreRetries     prometheus.Counter
	ScoreCache       *prometheus.CounterVec
	ScoresComputed   prometheus.Counter
	ModelCalls       *prometheus.CounterVec
	SnapshotVersion  prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QuestionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_risk_questions_total",
			Help: "Questions answered by outcome",
		}, []string{"intent", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warehouse_risk_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_risk_questions_in_flight",
			Help: "Questions currently admitted",
		}),
		Queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_risk_questions_queued",
			Help: "Questions waiting for admission",
		}),
		StoreCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_risk_store_calls_total",
			Help: "Graph store calls by status",
		}, []string{"status"}),
		StoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warehouse_risk_store_call_duration_seconds",
			Help:    "Graph store call duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_risk_store_retries_total",
			Help: "Graph store calls repeated after a transient failure",
		}),
		ScoreCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_risk_score_cache_total",
			Help: "Risk score cache lookups by result",
		}, []string{"result"}),
		ScoresComputed: f.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_risk_scores_computed_total",
			Help: "Risk scores computed",
		}),
		ModelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_risk_model_calls_total",
			Help: "Language model calls by purpose and status",
		}, []string{"purpose", "status"}),
		SnapshotVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_risk_snapshot_version",
			Help: "Current knowledge graph snapshot version",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_risk_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestTimes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warehouse_risk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQuestion counts a finished question.
func (m *Metrics) RecordQuestion(intent, outcome string) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "unknown"
	}
	m.QuestionsTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetAdmission publishes the admission state of the orchestrator.
func (m *Metrics) SetAdmission(inFlight, queued int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(inFlight))
	m.Queued.Set(float64(queued))
}

func (m *Metrics) ObserveStoreCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreCalls.WithLabelValues(status(err)).Inc()
	m.StoreDuration.Observe(d.Seconds())
}

func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}

// ScoreCacheLookup counts a cache hit or miss.
func (m *Metrics) ScoreCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ScoreCache.WithLabelValues("hit").Inc()
	} else {
		m.ScoreCache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) ScoreComputed() {
	if m == nil {
		return
	}
	m.ScoresComputed.Inc()
}

func (m *Metrics) ModelCall(purpose string, err error) {
	if m == nil {
		return
	}
	m.ModelCalls.WithLabelValues(purpose, status(err)).Inc()
}

func (m *Metrics) SetSnapshotVersion(v uint64) {
	if m == nil {
		return
	}
	m.SnapshotVersion.Set(float64(v))
}

func (m *Metrics) RecordHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, http.StatusText(code)).Inc()
	m.HTTPRequestTimes.WithLabelValues(method, route).Observe(d.Seconds())
}

// Package metrics exports the service's Prometheus metrics on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stylesearch"

// DefaultBuckets are the latency buckets in seconds. Video ingestion blocks on
// provider-side segmentation, hence the long tail.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestLatency   prometheus.Histogram
	ingestRecords   *prometheus.CounterVec
	videoPolls      *prometheus.CounterVec
	searchTotal     *prometheus.CounterVec
	searchLatency   *prometheus.HistogramVec
	searchHits      *prometheus.HistogramVec
	generationTotal *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New creates Metrics on a fresh registry that also carries the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "products_total",
			Help: "Products processed by the ingestion pipeline.",
		}, []string{"outcome"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "duration_seconds",
			Help: "End-to-end ingestion latency per product.", Buckets: DefaultBuckets,
		}),
		ingestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "records_total",
			Help: "Embedding records committed to the vector index.",
		}, []string{"type"}),
		videoPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "video_task_polls_total",
			Help: "Video embedding task status polls by observed status.",
		}, []string{"status"}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "searches_total",
			Help: "Retrieval calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "duration_seconds",
			Help: "Retrieval latency including query embedding.", Buckets: DefaultBuckets,
		}, []string{"kind"}),
		searchHits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retrieval", Name: "hits",
			Help: "Hits returned per search.", Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}, []string{"type"}),
		generationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rag", Name: "responses_total",
			Help: "Composed responses by outcome.",
		}, []string{"outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"name"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "duration_seconds",
			Help: "HTTP request latency.", Buckets: DefaultBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.ingestTotal, m.ingestLatency, m.ingestRecords, m.videoPolls,
		m.searchTotal, m.searchLatency, m.searchHits,
		m.generationTotal, m.breakerState,
		m.httpRequests, m.httpLatency,
	)
	return m
}

// Registry exposes the underlying registry.
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

// ObserveIngest records one ingestion attempt.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration, textRecords, videoRecords int) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestLatency.Observe(d.Seconds())
	m.ingestRecords.WithLabelValues("text").Add(float64(textRecords))
	m.ingestRecords.WithLabelValues("video").Add(float64(videoRecords))
}

// ObserveVideoPoll records one polled task status.
func (m *Metrics) ObserveVideoPoll(status string) {
	if m == nil {
		return
	}
	m.videoPolls.WithLabelValues(status).Inc()
}

// ObserveSearch records a retrieval call. hits maps embedding type to count.
func (m *Metrics) ObserveSearch(kind string, d time.Duration, err error, hits map[string]int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.searchTotal.WithLabelValues(kind, outcome).Inc()
	m.searchLatency.WithLabelValues(kind).Observe(d.Seconds())
	for t, n := range hits {
		m.searchHits.WithLabelValues(t).Observe(float64(n))
	}
}

// ObserveResponse records a composed response outcome: answered, no_matches,
// generation_failed or error.
func (m *Metrics) ObserveResponse(outcome string) {
	if m == nil {
		return
	}
	m.generationTotal.WithLabelValues(outcome).Inc()
}

// SetBreakerState publishes a breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusText(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

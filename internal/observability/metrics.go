package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dodge1218/prompt-intelligence/internal/chain"
)

var _ chain.Recorder = (*Collector)(nil)

// Collector holds the service's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	detectionRuns     *prometheus.CounterVec
	detectionDuration *prometheus.HistogramVec
	chainsPersisted   prometheus.Counter
	insertFailures    prometheus.Counter
	linkFailures      prometheus.Counter
	chainsRelinked    prometheus.Counter

	analyses        *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		detectionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_detection_runs_total",
			Help:      "Chain detection runs by outcome",
		}, []string{"outcome"}),
		detectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_detection_duration_seconds",
			Help:      "Chain detection run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		chainsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chains_persisted_total",
			Help:      "Chain records inserted",
		}),
		insertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_insert_failures_total",
			Help:      "Chain record inserts that failed",
		}),
		linkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_link_failures_total",
			Help:      "Prompt to chain linkage updates that failed",
		}),
		chainsRelinked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chains_relinked_total",
			Help:      "Existing chains whose prompts were linked on a later run",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_analyses_total",
			Help:      "Prompt scoring requests by model and status",
		}, []string{"model", "status"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM provider call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"provider"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published by detail type and status",
		}, []string{"detail_type", "status"}),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.detectionRuns,
		c.detectionDuration,
		c.chainsPersisted,
		c.insertFailures,
		c.linkFailures,
		c.chainsRelinked,
		c.analyses,
		c.llmDuration,
		c.eventsPublished,
	)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordDetectionRun implements chain.Recorder.
func (c *Collector) RecordDetectionRun(outcome string, duration time.Duration) {
	c.detectionRuns.WithLabelValues(outcome).Inc()
	c.detectionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordChains implements chain.Recorder.
func (c *Collector) RecordChains(result chain.DetectionResult) {
	c.chainsPersisted.Add(float64(result.ChainsDetected))
	c.insertFailures.Add(float64(result.InsertFailures))
	c.linkFailures.Add(float64(result.LinkFailures))
	c.chainsRelinked.Add(float64(result.Relinked))
}

// RecordAnalysis counts one scoring request.
func (c *Collector) RecordAnalysis(model string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.analyses.WithLabelValues(model, status).Inc()
}

// ObserveLLM records a provider call duration.
func (c *Collector) ObserveLLM(provider string, duration time.Duration) {
	c.llmDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEvent counts one publish attempt.
func (c *Collector) RecordEvent(detailType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.eventsPublished.WithLabelValues(detailType, status).Inc()
}

// Middleware records request counts and latencies by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Package metrics publishes the gateway's Prometheus series: inference
// latency/token counts, cache hit rate, and provider routing fallback
// rate (spec.md's ambient observability stack — see SPEC_FULL.md section 2).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/cache"
	"github.com/tzrouter/gateway/internal/coordinator"
	"github.com/tzrouter/gateway/internal/router"
)

// Metrics holds the process's Prometheus collectors. New registers them
// all against reg in one call so cmd/gateway only has to wire one object
// into both the coordinator's Observer and the /metrics handler.
type Metrics struct {
	InferenceLatency *prometheus.HistogramVec
	InputTokens      *prometheus.CounterVec
	OutputTokens     *prometheus.CounterVec
	InferenceErrors  *prometheus.CounterVec

	cache           *cache.Cache
	cacheHitRatio   prometheus.GaugeFunc
	routingAttempts prometheus.CounterFunc
}

// SetCache attaches the cache the hit-ratio gauge reports on. cmd/gateway
// calls this once config.Build has produced the cache, since building the
// coordinator's metrics-backed Observer must happen before the cache
// exists (the Observer is itself an input to config.Build). Before
// SetCache is called, or if caching is disabled, the gauge reports 0.
func (m *Metrics) SetCache(c *cache.Cache) { m.cache = c }

// New builds and registers a Metrics instance. Call SetCache once a
// *cache.Cache exists; until then the cache hit-rate gauge reports 0.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Name:      "inference_duration_seconds",
			Help:      "Latency of a completed /v1/inference call, by function name and variant.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "variant"}),
		InputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "input_tokens_total",
			Help:      "Cumulative input tokens billed, by model.",
		}, []string{"model"}),
		OutputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "output_tokens_total",
			Help:      "Cumulative output tokens billed, by model.",
		}, []string{"model"}),
		InferenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "inference_errors_total",
			Help:      "Count of failed /v1/inference calls, by error kind.",
		}, []string{"kind"}),
	}

	m.cacheHitRatio = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "llmrouter",
		Name:      "cache_hit_ratio",
		Help:      "Cumulative cache hits / (hits + misses) since process start.",
	}, func() float64 {
		if m.cache == nil {
			return 0
		}
		hits, misses := m.cache.Stats()
		if hits+misses == 0 {
			return 0
		}
		return float64(hits) / float64(hits+misses)
	})

	m.routingAttempts = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "llmrouter",
		Name:      "router_provider_attempts_total",
		Help:      "Cumulative provider call attempts across all models, including fallback retries.",
	}, func() float64 {
		return float64(router.Attempts.Load())
	})

	reg.MustRegister(
		m.InferenceLatency,
		m.InputTokens,
		m.OutputTokens,
		m.InferenceErrors,
		m.cacheHitRatio,
		m.routingAttempts,
	)

	return m
}

// ObserveInference records one completed call's latency and token usage.
// Errors are recorded by kind via RecordError instead, since a failed call
// has no usage to attribute to a model.
func (m *Metrics) ObserveInference(function, variant string, d time.Duration, model string, inputTokens, outputTokens int) {
	m.InferenceLatency.WithLabelValues(function, variant).Observe(d.Seconds())
	if model != "" {
		m.InputTokens.WithLabelValues(model).Add(float64(inputTokens))
		m.OutputTokens.WithLabelValues(model).Add(float64(outputTokens))
	}
}

// RecordError increments the error counter for kind (spec.md section 7's
// closed set of error kinds).
func (m *Metrics) RecordError(kind string) {
	m.InferenceErrors.WithLabelValues(kind).Inc()
}

// Observer adapts Metrics to coordinator.Observer: every inference call
// the coordinator completes updates the latency/token/error collectors
// above, regardless of whatever other observability sink is also wired.
type Observer struct {
	metrics *Metrics
}

// NewObserver wraps m as a coordinator.Observer.
func NewObserver(m *Metrics) *Observer {
	return &Observer{metrics: m}
}

func (o *Observer) Observe(ctx context.Context, rec coordinator.InferenceRecord) {
	if rec.Err != nil {
		kind := "unknown"
		if e, ok := apierror.As(rec.Err); ok {
			kind = string(e.Kind)
		}
		o.metrics.RecordError(kind)
		return
	}
	o.metrics.ObserveInference(rec.FunctionName, rec.VariantName, rec.Latency, rec.ModelName, rec.Usage.InputTokens, rec.Usage.OutputTokens)
}

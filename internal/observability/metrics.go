package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Decisions over long periods are slow on a cold cache.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Reanalysis API call rate by outcome. One call per uncached (date, site).
	ClimateAPICallsTotal *prometheus.CounterVec

	// Reanalysis API latency. Watch for: p95 > 2s (upstream degradation).
	ClimateAPIDuration *prometheus.HistogramVec

	// Retry attempts for reanalysis API calls. Watch for: high retries = unstable upstream.
	ClimateAPIRetriesTotal prometheus.Counter

	// Reanalysis API failures by category (see client.CategorizeError).
	ClimateAPIErrorsTotal *prometheus.CounterVec

	// Cache hits by cache type. Misses show up as ClimateAPICallsTotal.
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend errors by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and status.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Fetches that joined an identical in-flight upstream call.
	FetchCoalescedTotal prometheus.Counter

	// Concurrent misses on one key. Watch for: values > 1 = stampede.
	CacheStampedeConcurrency prometheus.Histogram

	// ET0 evaluations by status (ok, invalid).
	ET0EstimatesTotal *prometheus.CounterVec

	// Wall time to accumulate one period total, by quantity (fppet, fpp).
	PeriodAccumulationDuration *prometheus.HistogramVec

	// Completed decisions by result.
	DecisionsTotal *prometheus.CounterVec

	// Failed decisions by fault kind.
	DecisionFailuresTotal *prometheus.CounterVec

	// Per-site decisions (allow-list; others go to "other").
	DecisionsBySiteTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Prefetch runs, failures and duration.
	PrefetchRunsTotal          prometheus.Counter
	PrefetchErrorsTotal        prometheus.Counter
	PrefetchDurationSeconds    prometheus.Histogram

	// Decision history writes by status.
	HistoryWritesTotal *prometheus.CounterVec

	// Decision events published by status.
	EventsPublishedTotal *prometheus.CounterVec

	trackedSitesMu sync.RWMutex
	trackedSites   map[string]string // site key -> site name

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	ClimateAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "climateApiCallsTotal", Help: "Total number of reanalysis API calls"},
		[]string{"status"},
	)
	ClimateAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "climateApiDurationSeconds",
			Help:    "Reanalysis API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	ClimateAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "climateApiRetriesTotal", Help: "Total number of retry attempts for reanalysis API calls"},
	)
	ClimateAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "climateApiErrorsTotal", Help: "Reanalysis API failures by category"},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Total number of cache hits"},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors"},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "status"},
	)
	FetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fetchCoalescedTotal", Help: "Daily climate fetches that shared an in-flight upstream call"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent cache misses observed for a single key",
			Buckets: []float64{2, 4, 8, 16, 32},
		},
	)
	ET0EstimatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "et0EstimatesTotal", Help: "Daily ET0 evaluations"},
		[]string{"status"},
	)
	PeriodAccumulationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "periodAccumulationDurationSeconds",
			Help:    "Time to accumulate a period total",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 60},
		},
		[]string{"quantity"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisionsTotal", Help: "Completed wet/dry decisions by result"},
		[]string{"result"},
	)
	DecisionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisionFailuresTotal", Help: "Failed wet/dry decisions by fault kind"},
		[]string{"kind"},
	)
	DecisionsBySiteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisionsBySiteTotal", Help: "Decisions by tracked site (others use site=other)"},
		[]string{"site"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open"},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)
	PrefetchRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "prefetchRunsTotal", Help: "Cache prefetch runs"},
	)
	PrefetchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "prefetchErrorsTotal", Help: "Cache prefetch runs with at least one failed site"},
	)
	PrefetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prefetchDurationSeconds",
			Help:    "Duration of a cache prefetch run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "historyWritesTotal", Help: "Decision history writes"},
		[]string{"status"},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eventsPublishedTotal", Help: "Decision events published"},
		[]string{"status"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ClimateAPICallsTotal, ClimateAPIDuration, ClimateAPIRetriesTotal, ClimateAPIErrorsTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		FetchCoalescedTotal, CacheStampedeConcurrency,
		ET0EstimatesTotal, PeriodAccumulationDuration,
		DecisionsTotal, DecisionFailuresTotal, DecisionsBySiteTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
		PrefetchRunsTotal, PrefetchErrorsTotal, PrefetchDurationSeconds,
		HistoryWritesTotal, EventsPublishedTotal,
	)
}

// RegisterTrafficGauges registers sliding-window request and error gauges backed by
// the traffic tracker. Call from main after config load.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "decisionRequestsInWindow",
					Help: "Decision requests in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "decisionErrorsInWindow",
					Help: "Failed decision requests in sliding window",
				},
				func() float64 { e, _ := traffic.ErrorRate(window); return float64(e) },
			),
		)
	})
}

// SetTrackedSites sets the allow-list for per-site metrics. Other coordinates are
// labelled "other" to bound cardinality.
func SetTrackedSites(sites []models.Site) {
	trackedSitesMu.Lock()
	defer trackedSitesMu.Unlock()
	trackedSites = make(map[string]string, len(sites))
	for _, s := range sites {
		trackedSites[siteKey(s.Coordinate)] = s.Name
	}
}

// RecordBreakerTransition updates breaker state metrics for component.
func RecordBreakerTransition(component, from, to string, state float64) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// RecordDecision records a completed decision for metrics.
func RecordDecision(coord models.Coordinate, result models.DecisionResult) {
	DecisionsTotal.WithLabelValues(string(result)).Inc()
	DecisionsBySiteTotal.WithLabelValues(SiteLabel(coord)).Inc()
}

// SiteLabel resolves a coordinate to its tracked site name, or "other".
func SiteLabel(coord models.Coordinate) string {
	trackedSitesMu.RLock()
	name, ok := trackedSites[siteKey(coord)] // nil map read is safe in Go
	trackedSitesMu.RUnlock()
	if ok {
		return name
	}
	return "other"
}

func siteKey(c models.Coordinate) string {
	return fmt.Sprintf("%.3f,%.3f", c.Lon, c.Lat)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a Prometheus registry with the clone I/O engine's metrics.
type Registry struct {
	registry *prometheus.Registry

	// Read/write path metrics
	aioRequestsTotal   *prometheus.CounterVec
	aioRequestDuration *prometheus.HistogramVec
	aioRequestsInFlight prometheus.Gauge
	aioBytesTotal      *prometheus.CounterVec

	// Copyup metrics
	copyupsTotal        *prometheus.CounterVec
	copyupDuration      prometheus.Histogram
	copyupBytesTotal    prometheus.Counter
	copyupsCoalesced    prometheus.Counter
	copyupsInFlight     prometheus.Gauge

	// Parent overlap metrics
	parentReadsTotal    prometheus.Counter
	parentReadBytes     prometheus.Counter

	// Object map metrics
	objectMapUpdatesTotal  *prometheus.CounterVec
	objectMapRejectedTotal prometheus.Counter

	// Worker pool metrics
	workerPoolSize   prometheus.Gauge
	workerPoolActive prometheus.Gauge
	workerPoolQueued prometheus.Gauge

	// Resilience metrics
	circuitBreakerOpenTotal  prometheus.Counter
	circuitBreakerState      prometheus.Gauge
	rateLimiterThrottledTotal prometheus.Counter

	// Scrub metrics
	scrubRunsTotal     prometheus.Counter
	scrubStaleFound    prometheus.Counter

	// System metrics
	goroutineCount prometheus.Gauge
	panicTotal     *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all engine metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		aioRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloneio_aio_requests_total",
				Help: "Total number of AIO requests completed, by op and status",
			},
			[]string{"op", "status"},
		),
		aioRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloneio_aio_request_duration_seconds",
				Help:    "AIO request duration in seconds, by op",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		aioRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_aio_requests_in_flight",
				Help: "Number of AIO requests currently outstanding",
			},
		),
		aioBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloneio_aio_bytes_total",
				Help: "Total bytes read or written through the AIO path, by op",
			},
			[]string{"op"},
		),

		copyupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloneio_copyups_total",
				Help: "Total number of copyup operations, by status",
			},
			[]string{"status"},
		),
		copyupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloneio_copyup_duration_seconds",
				Help:    "Copyup operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		copyupBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_copyup_bytes_total",
				Help: "Total bytes materialised from parent images via copyup",
			},
		),
		copyupsCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_copyups_coalesced_total",
				Help: "Total number of requests that joined an in-flight copyup instead of starting a new one",
			},
		),
		copyupsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_copyups_in_flight",
				Help: "Number of copyups currently in flight, one per distinct object",
			},
		),

		parentReadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_parent_reads_total",
				Help: "Total number of reads served from a parent image",
			},
		),
		parentReadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_parent_read_bytes_total",
				Help: "Total bytes read from parent images",
			},
		),

		objectMapUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloneio_object_map_updates_total",
				Help: "Total object map state transitions, by new state",
			},
			[]string{"state"},
		),
		objectMapRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_object_map_updates_rejected_total",
				Help: "Total object map CAS updates rejected because the current state did not match the expected state",
			},
		),

		workerPoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_worker_pool_size",
				Help: "Total number of workers in the copyup worker pool",
			},
		),
		workerPoolActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_worker_pool_active",
				Help: "Number of workers currently running a job",
			},
		),
		workerPoolQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_worker_pool_queued",
				Help: "Number of jobs waiting in the worker pool queue",
			},
		),

		circuitBreakerOpenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_circuit_breaker_opened_total",
				Help: "Total number of times the object-store circuit breaker tripped open",
			},
		),
		circuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		rateLimiterThrottledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_rate_limiter_throttled_total",
				Help: "Total number of object-store calls delayed by the rate limiter",
			},
		),

		scrubRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_scrub_runs_total",
				Help: "Total number of object-map scrub passes run",
			},
		),
		scrubStaleFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cloneio_scrub_stale_objects_total",
				Help: "Total number of objects found stuck in PENDING past the staleness threshold",
			},
		),

		goroutineCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloneio_goroutines_count",
				Help: "Current number of goroutines",
			},
		),
		panicTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloneio_panics_total",
				Help: "Total number of recovered panics, by component",
			},
			[]string{"component"},
		),
	}

	r.registerMetrics()

	return r
}

// registerMetrics registers all metrics with the Prometheus registry.
func (r *Registry) registerMetrics() {
	collectors := []prometheus.Collector{
		r.aioRequestsTotal,
		r.aioRequestDuration,
		r.aioRequestsInFlight,
		r.aioBytesTotal,
		r.copyupsTotal,
		r.copyupDuration,
		r.copyupBytesTotal,
		r.copyupsCoalesced,
		r.copyupsInFlight,
		r.parentReadsTotal,
		r.parentReadBytes,
		r.objectMapUpdatesTotal,
		r.objectMapRejectedTotal,
		r.workerPoolSize,
		r.workerPoolActive,
		r.workerPoolQueued,
		r.circuitBreakerOpenTotal,
		r.circuitBreakerState,
		r.rateLimiterThrottledTotal,
		r.scrubRunsTotal,
		r.scrubStaleFound,
		r.goroutineCount,
		r.panicTotal,
	}

	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
}

// GetRegistry returns the underlying Prometheus registry.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordAioRequest records a completed AIO request.
func (r *Registry) RecordAioRequest(op, status string, duration time.Duration, bytes int64) {
	r.aioRequestsTotal.WithLabelValues(op, status).Inc()
	r.aioRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
	if bytes > 0 {
		r.aioBytesTotal.WithLabelValues(op).Add(float64(bytes))
	}
}

// IncAioRequestsInFlight increments the outstanding AIO request gauge.
func (r *Registry) IncAioRequestsInFlight() {
	r.aioRequestsInFlight.Inc()
}

// DecAioRequestsInFlight decrements the outstanding AIO request gauge.
func (r *Registry) DecAioRequestsInFlight() {
	r.aioRequestsInFlight.Dec()
}

// RecordCopyup records a completed copyup operation.
func (r *Registry) RecordCopyup(status string, duration time.Duration, bytes int64) {
	r.copyupsTotal.WithLabelValues(status).Inc()
	r.copyupDuration.Observe(duration.Seconds())
	if bytes > 0 {
		r.copyupBytesTotal.Add(float64(bytes))
	}
}

// RecordCopyupCoalesced records a request joining an in-flight copyup.
func (r *Registry) RecordCopyupCoalesced() {
	r.copyupsCoalesced.Inc()
}

// SetCopyupsInFlight sets the number of distinct objects with a copyup in flight.
func (r *Registry) SetCopyupsInFlight(n int) {
	r.copyupsInFlight.Set(float64(n))
}

// RecordParentRead records a read served from a parent image.
func (r *Registry) RecordParentRead(bytes int64) {
	r.parentReadsTotal.Inc()
	if bytes > 0 {
		r.parentReadBytes.Add(float64(bytes))
	}
}

// RecordObjectMapUpdate records an accepted object map state transition.
func (r *Registry) RecordObjectMapUpdate(state string) {
	r.objectMapUpdatesTotal.WithLabelValues(state).Inc()
}

// RecordObjectMapRejected records a rejected CAS update to the object map.
func (r *Registry) RecordObjectMapRejected() {
	r.objectMapRejectedTotal.Inc()
}

// SetWorkerPoolSize sets the total worker count gauge.
func (r *Registry) SetWorkerPoolSize(size int) {
	r.workerPoolSize.Set(float64(size))
}

// SetWorkerPoolActive sets the active worker count gauge.
func (r *Registry) SetWorkerPoolActive(active int) {
	r.workerPoolActive.Set(float64(active))
}

// SetWorkerPoolQueued sets the queued job count gauge.
func (r *Registry) SetWorkerPoolQueued(queued int) {
	r.workerPoolQueued.Set(float64(queued))
}

// RecordCircuitBreakerOpen records the breaker tripping open.
func (r *Registry) RecordCircuitBreakerOpen() {
	r.circuitBreakerOpenTotal.Inc()
}

// SetCircuitBreakerState sets the breaker state gauge (0=closed, 1=half-open, 2=open).
func (r *Registry) SetCircuitBreakerState(state int) {
	r.circuitBreakerState.Set(float64(state))
}

// RecordRateLimiterThrottled records a call delayed by the rate limiter.
func (r *Registry) RecordRateLimiterThrottled() {
	r.rateLimiterThrottledTotal.Inc()
}

// RecordScrubRun records a completed scrub pass and the number of stale
// objects it found.
func (r *Registry) RecordScrubRun(staleFound int) {
	r.scrubRunsTotal.Inc()
	if staleFound > 0 {
		r.scrubStaleFound.Add(float64(staleFound))
	}
}

// SetGoroutineCount sets the goroutine count gauge.
func (r *Registry) SetGoroutineCount(count int) {
	r.goroutineCount.Set(float64(count))
}

// RecordPanic records a recovered panic.
func (r *Registry) RecordPanic(component string) {
	r.panicTotal.WithLabelValues(component).Inc()
}

// Package metrics exposes Prometheus collectors for the cache engine, the
// distributed lock, seckill admission and the order consumer. All Record*
// helpers are no-ops until InitPrometheus has been called, so library code
// can record unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for Dianping metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Cache engine
	cacheLookupsTotal  *prometheus.CounterVec
	cacheRebuildsTotal *prometheus.CounterVec
	rebuildQueueDepth  prometheus.Gauge
	localCacheEntries  prometheus.Gauge

	// Distributed lock
	lockAcquireTotal *prometheus.CounterVec

	// Seckill
	admissionsTotal   *prometheus.CounterVec
	admissionDuration prometheus.Histogram

	// Order consumer
	consumerMessagesTotal *prometheus.CounterVec
	consumerRecoveryTotal prometheus.Counter
	persistDuration       prometheus.Histogram
}

// Default histogram buckets (in milliseconds)
var defaultBuckets = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by strategy and result",
			},
			[]string{"strategy", "result"}, // hit, miss, null, stale
		),

		cacheRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_rebuilds_total",
				Help:      "Cache rebuilds by strategy and outcome",
			},
			[]string{"strategy", "result"},
		),

		rebuildQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_rebuild_queue_depth",
				Help:      "Rebuild tasks waiting for a worker",
			},
		),

		localCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_local_entries",
				Help:      "Entries held by the in-process cache backend",
			},
		),

		lockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_acquire_total",
				Help:      "Distributed lock acquisition attempts by result",
			},
			[]string{"result"},
		),

		admissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "seckill_admissions_total",
				Help:      "Seckill admission decisions by result",
			},
			[]string{"result"}, // admitted, out_of_stock, already_ordered, error
		),

		admissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "seckill_admission_milliseconds",
				Help:      "Latency of the atomic admission step in milliseconds",
				Buckets:   buckets,
			},
		),

		consumerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_consumer_messages_total",
				Help:      "Stream messages handled by the order consumer",
			},
			[]string{"source", "result"}, // source: new, pending
		),

		consumerRecoveryTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_consumer_recoveries_total",
				Help:      "Times the order consumer entered recovery mode",
			},
		),

		persistDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "order_persist_milliseconds",
				Help:      "Duration of durable order persistence in milliseconds",
				Buckets:   buckets,
			},
		),
	}

	registry.MustRegister(
		pm.cacheLookupsTotal,
		pm.cacheRebuildsTotal,
		pm.rebuildQueueDepth,
		pm.localCacheEntries,
		pm.lockAcquireTotal,
		pm.admissionsTotal,
		pm.admissionDuration,
		pm.consumerMessagesTotal,
		pm.consumerRecoveryTotal,
		pm.persistDuration,
	)

	promMetrics = pm
}

// RecordCacheLookup records the outcome of a cache read
func RecordCacheLookup(strategy, result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheLookupsTotal.WithLabelValues(strategy, result).Inc()
}

// RecordCacheRebuild records a completed (or failed) rebuild
func RecordCacheRebuild(strategy string, success bool) {
	if promMetrics == nil {
		return
	}
	result := "success"
	if !success {
		result = "failed"
	}
	promMetrics.cacheRebuildsTotal.WithLabelValues(strategy, result).Inc()
}

// SetRebuildQueueDepth reports pending rebuild tasks
func SetRebuildQueueDepth(depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.rebuildQueueDepth.Set(float64(depth))
}

// SetLocalCacheEntries reports the size of the in-process cache backend
func SetLocalCacheEntries(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.localCacheEntries.Set(float64(n))
}

// RecordLockAcquire records a TryLock outcome
func RecordLockAcquire(acquired bool) {
	if promMetrics == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	promMetrics.lockAcquireTotal.WithLabelValues(result).Inc()
}

// RecordAdmission records a seckill admission decision and its latency
func RecordAdmission(result string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.admissionsTotal.WithLabelValues(result).Inc()
	promMetrics.admissionDuration.Observe(float64(d) / float64(time.Millisecond))
}

// RecordConsumerMessage records a handled stream message
func RecordConsumerMessage(source, result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.consumerMessagesTotal.WithLabelValues(source, result).Inc()
}

// RecordConsumerRecovery counts entries into recovery mode
func RecordConsumerRecovery() {
	if promMetrics == nil {
		return
	}
	promMetrics.consumerRecoveryTotal.Inc()
}

// RecordPersistDuration records how long a durable order write took
func RecordPersistDuration(d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.persistDuration.Observe(float64(d) / float64(time.Millisecond))
}

// PrometheusHandler returns the HTTP handler for /metrics
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the registry, or nil before InitPrometheus
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}

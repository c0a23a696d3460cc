package translate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine call metrics
	engineCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2mserve_engine_calls_total",
			Help: "Total number of batch calls into the translation engine",
		},
		[]string{"engine", "status"},
	)

	engineCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2mserve_engine_call_duration_seconds",
			Help:    "Duration of a single engine batch call in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"engine", "status"},
	)

	engineBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2mserve_engine_batch_size",
			Help:    "Number of texts submitted to the engine per call",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"engine"},
	)

	engineTextBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2mserve_engine_text_bytes",
			Help:    "Total size of texts submitted to the engine per call",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"engine"},
	)

	// Predictor metrics
	predictorLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2mserve_predictor_lock_wait_seconds",
			Help:    "Time spent waiting for exclusive access to the engine",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"engine"},
	)

	predictorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2mserve_predictor_requests_total",
			Help: "Total number of prediction requests",
		},
		[]string{"engine", "status"},
	)

	predictorRecords = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2mserve_predictor_records",
			Help:    "Number of records per prediction request",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500},
		},
		[]string{"engine"},
	)

	cacheReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2mserve_device_cache_releases_total",
			Help: "Total number of accelerator cache releases",
		},
		[]string{"engine", "status"},
	)
)

// MetricsCollector records engine and predictor metrics under one engine label.
// A nil collector is valid and records nothing.
type MetricsCollector struct {
	engine string
}

// NewMetricsCollector creates a new metrics collector for an engine.
func NewMetricsCollector(engine string) *MetricsCollector {
	return &MetricsCollector{engine: engine}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordEngineCall records metrics for one engine batch call.
func (mc *MetricsCollector) RecordEngineCall(duration time.Duration, success bool, texts []string) {
	if mc == nil {
		return
	}
	size := 0
	for _, t := range texts {
		size += len(t)
	}
	engineCallsTotal.WithLabelValues(mc.engine, status(success)).Inc()
	engineCallDuration.WithLabelValues(mc.engine, status(success)).Observe(duration.Seconds())
	engineBatchSize.WithLabelValues(mc.engine).Observe(float64(len(texts)))
	engineTextBytes.WithLabelValues(mc.engine).Observe(float64(size))
}

// RecordLockWait records time spent waiting for the predictor lock.
func (mc *MetricsCollector) RecordLockWait(duration time.Duration) {
	if mc == nil {
		return
	}
	predictorLockWait.WithLabelValues(mc.engine).Observe(duration.Seconds())
}

// RecordPrediction records a completed prediction request.
func (mc *MetricsCollector) RecordPrediction(records int, success bool) {
	if mc == nil {
		return
	}
	predictorRequestsTotal.WithLabelValues(mc.engine, status(success)).Inc()
	predictorRecords.WithLabelValues(mc.engine).Observe(float64(records))
}

// RecordCacheRelease records an accelerator cache release attempt.
func (mc *MetricsCollector) RecordCacheRelease(success bool) {
	if mc == nil {
		return
	}
	cacheReleasesTotal.WithLabelValues(mc.engine, status(success)).Inc()
}

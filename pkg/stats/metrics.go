// Package stats provides Prometheus metrics for the extraction service.
package stats

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Extraction modes and outcomes used as label values. Failed runs use the
// extraction error code as the outcome.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"

	OutcomeOK = "ok"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsift_requests_total",
			Help: "Total number of requests received",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolsift_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestPayloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolsift_request_payload_bytes",
			Help:    "Request payload size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	responsePayloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolsift_response_payload_bytes",
			Help:    "Response payload size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path", "status"},
	)

	// Extraction metrics
	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsift_extractions_total",
			Help: "Total number of extraction runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolsift_parse_duration_seconds",
			Help:    "Time spent parsing one input",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.010, 0.050, 0.100, 0.500, 1.000},
		},
		[]string{"mode"},
	)

	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsift_events_emitted_total",
			Help: "Total number of streaming events emitted by type",
		},
		[]string{"type"},
	)

	parameterValueSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toolsift_parameter_value_bytes",
			Help:    "Size of extracted parameter values in bytes",
			Buckets: []float64{10, 100, 1000, 10000, 100000, 1000000},
		},
	)

	// Relay metrics
	relayRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsift_relay_rewrites_total",
			Help: "Tool call rewrites performed by the relay, by result",
		},
		[]string{"status"},
	)

	// Current state metrics
	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolsift_active_streams",
			Help: "Number of streaming sessions currently open",
		},
	)

	idleTimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolsift_idle_time_seconds",
			Help: "Time since last activity in seconds",
		},
	)

	// Token accounting metrics
	tokensCounted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsift_tokens_counted_total",
			Help: "Tokens counted in relayed output by kind",
		},
		[]string{"kind"},
	)
)

// MetricsRecorder handles recording metrics
type MetricsRecorder struct {
	mu               sync.RWMutex
	lastActivityTime time.Time
	idleTimeUpdater  *time.Ticker
	stopIdleUpdater  chan struct{}
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder() *MetricsRecorder {
	mr := &MetricsRecorder{
		lastActivityTime: time.Now(),
		idleTimeUpdater:  time.NewTicker(10 * time.Second),
		stopIdleUpdater:  make(chan struct{}),
	}

	// Start idle time updater
	go mr.updateIdleTime()

	return mr
}

// Stop stops the metrics recorder
func (mr *MetricsRecorder) Stop() {
	close(mr.stopIdleUpdater)
	mr.idleTimeUpdater.Stop()
}

// RecordRequest records a request with its metrics
func (mr *MetricsRecorder) RecordRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	statusStr := strconv.Itoa(status)

	requestsTotal.WithLabelValues(method, path, statusStr).Inc()
	requestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())

	if requestSize > 0 {
		requestPayloadSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		responsePayloadSize.WithLabelValues(method, path, statusStr).Observe(float64(responseSize))
	}
}

// RecordExtraction records one extraction run
func (mr *MetricsRecorder) RecordExtraction(mode, outcome string, duration time.Duration) {
	extractionsTotal.WithLabelValues(mode, outcome).Inc()
	parseDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordEvent records one emitted streaming event
func (mr *MetricsRecorder) RecordEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordParameterValueSize records the size of one extracted parameter value
func (mr *MetricsRecorder) RecordParameterValueSize(bytes int) {
	parameterValueSize.Observe(float64(bytes))
}

// RecordRelayRewrite records the result of one relay rewrite attempt
func (mr *MetricsRecorder) RecordRelayRewrite(status string) {
	relayRewrites.WithLabelValues(status).Inc()
}

// RecordTokens records counted tokens by kind (prose or tool)
func (mr *MetricsRecorder) RecordTokens(kind string, count int) {
	if count > 0 {
		tokensCounted.WithLabelValues(kind).Add(float64(count))
	}
}

// StreamOpened marks a streaming session as open
func (mr *MetricsRecorder) StreamOpened() {
	activeStreams.Inc()
	mr.UpdateActivity()
}

// StreamClosed marks a streaming session as closed
func (mr *MetricsRecorder) StreamClosed() {
	activeStreams.Dec()
}

// UpdateActivity updates the last activity time
func (mr *MetricsRecorder) UpdateActivity() {
	mr.mu.Lock()
	mr.lastActivityTime = time.Now()
	mr.mu.Unlock()
}

// updateIdleTime periodically updates the idle time metric
func (mr *MetricsRecorder) updateIdleTime() {
	for {
		select {
		case <-mr.idleTimeUpdater.C:
			mr.mu.RLock()
			idle := time.Since(mr.lastActivityTime).Seconds()
			mr.mu.RUnlock()
			idleTimeSeconds.Set(idle)
		case <-mr.stopIdleUpdater:
			return
		}
	}
}

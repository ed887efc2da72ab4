package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics instruments the request pipelines: HTTP traffic, bytes
// streamed to and from storage nodes, fan-out behavior and multipart
// upload operations.
type GatewayMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bytesStreamed     *prometheus.CounterVec
	inflightRequests  prometheus.Gauge
	fanoutAttempts    prometheus.Histogram
	placementFailures prometheus.Counter
	mpuOperations     *prometheus.CounterVec
}

// NewGatewayMetrics creates the gateway metrics set.
//
// Returns nil if metrics are not enabled (InitRegistry not called); all
// methods are safe to call on a nil receiver with zero overhead.
func NewGatewayMetrics() *GatewayMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &GatewayMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_requests_total",
				Help: "Total number of HTTP requests by operation and status code",
			},
			[]string{"operation", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shoal_request_duration_milliseconds",
				Help: "Duration of HTTP requests in milliseconds",
				Buckets: []float64{
					5,     // 5ms - metadata-only operations
					25,    // 25ms
					100,   // 100ms - small object streams
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - large object streams
					30000, // 30s
					60000, // 1m
				},
			},
			[]string{"operation"},
		),
		bytesStreamed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_bytes_streamed_total",
				Help: "Total object bytes streamed through the gateway by direction",
			},
			[]string{"direction"},
		),
		inflightRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "shoal_inflight_requests",
				Help: "Current number of requests being served",
			},
		),
		fanoutAttempts: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shoal_fanout_candidate_sets_tried",
				Help:    "Number of candidate sets tried per object write",
				Buckets: []float64{1, 2, 3},
			},
		),
		placementFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shoal_placement_failures_total",
				Help: "Total number of writes that exhausted every candidate set",
			},
		),
		mpuOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoal_mpu_operations_total",
				Help: "Total multipart upload operations by kind and status",
			},
			[]string{"operation", "status"},
		),
	}
}

// ObserveRequest records a served request with its duration and HTTP status.
func (m *GatewayMetrics) ObserveRequest(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

// RecordBytes records object bytes streamed in or out of the gateway.
func (m *GatewayMetrics) RecordBytes(direction string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesStreamed.WithLabelValues(direction).Add(float64(bytes))
}

// RequestStarted marks a request in flight. Returns a done callback.
func (m *GatewayMetrics) RequestStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inflightRequests.Inc()
	return m.inflightRequests.Dec
}

// ObserveFanout records how many candidate sets a write tried.
func (m *GatewayMetrics) ObserveFanout(setsTried int) {
	if m == nil {
		return
	}
	m.fanoutAttempts.Observe(float64(setsTried))
}

// RecordPlacementFailure records a write that exhausted every candidate set.
func (m *GatewayMetrics) RecordPlacementFailure() {
	if m == nil {
		return
	}
	m.placementFailures.Inc()
}

// RecordMPUOperation records a multipart upload operation outcome.
func (m *GatewayMetrics) RecordMPUOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.mpuOperations.WithLabelValues(operation, status).Inc()
}

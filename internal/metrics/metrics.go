package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	framesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "player_frames_received_total",
		Help: "Total transport frames received",
	})

	frameBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "player_frame_bytes_total",
		Help: "Total transport frame bytes received",
	})

	framesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "player_frames_rejected_total",
		Help: "Frames dropped before reaching the decoder",
	}, []string{"reason"})

	packetsPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "player_packets_per_second",
		Help: "Transport packets received in the last full second",
	})

	transportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_transport_errors_total",
		Help: "Total transport errors reported by the ingestion channel",
	})

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_reconnects_total",
		Help: "Total reconnection attempts",
	}, []string{"layer"})

	connectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_connection_duration_seconds",
		Help:    "Connection duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~16k seconds
	})

	// Decode metrics
	decodeSegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_segments_total",
		Help: "Segments produced by the decode worker",
	})

	decodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_failures_total",
		Help: "Frames the decode worker failed to mux",
	})

	// Buffer controller metrics
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_appends_total",
		Help: "Appends issued to the source buffer",
	})

	appendBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_append_bytes_total",
		Help: "Bytes appended to the source buffer",
	})

	appendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_append_errors_total",
		Help: "Appends rejected by the source buffer",
	})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mse_recoveries_total",
		Help: "Media recovery attempts by outcome",
	}, []string{"outcome"})

	catchUpSeeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_catchup_seeks_total",
		Help: "Forced seeks toward the live edge",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_evictions_total",
		Help: "Evictions of played-out media",
	})

	boundaryJumpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mse_boundary_jumps_total",
		Help: "Jumps into a later buffered range after a discontinuity",
	})

	bufferQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mse_queue_depth",
		Help: "Segments waiting to be appended",
	})

	playbackState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mse_state",
		Help: "Buffer controller state (0 idle, 1 waiting, 2 normal, 3 error, 4 destroyed)",
	})

	// Export metrics
	captureExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_exports_total",
		Help: "Raw stream captures exported",
	}, []string{"trigger"})

	captureBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_bytes_total",
		Help: "Bytes written to exported captures",
	})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshots_total",
		Help: "Snapshot attempts by outcome",
	}, []string{"outcome"})

	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_sessions_active",
		Help: "Player sessions registered as active",
	})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})
)

// RecordFrame counts one received transport frame
func RecordFrame(bytes int) {
	framesReceivedTotal.Inc()
	frameBytesTotal.Add(float64(bytes))
}

// IncrementFrameRejected counts a frame dropped before decode
func IncrementFrameRejected(reason string) {
	framesRejectedTotal.WithLabelValues(reason).Inc()
}

func SetPacketsPerSecond(pps int) {
	packetsPerSecond.Set(float64(pps))
}

func IncrementTransportError() {
	transportErrorsTotal.Inc()
}

// IncrementReconnects counts a reconnect at the given layer ("socket" or
// "player")
func IncrementReconnects(layer string) {
	reconnectsTotal.WithLabelValues(layer).Inc()
}

// RecordConnectionDuration records how long a connection stayed open
func RecordConnectionDuration(seconds float64) {
	connectionDuration.Observe(seconds)
}

func IncrementDecodeSegments() {
	decodeSegmentsTotal.Inc()
}

func IncrementDecodeFailures() {
	decodeFailuresTotal.Inc()
}

// RecordAppend counts one append of the given size
func RecordAppend(bytes int) {
	appendsTotal.Inc()
	appendBytesTotal.Add(float64(bytes))
}

func IncrementAppendError() {
	appendErrorsTotal.Inc()
}

// IncrementRecovery counts a recovery attempt outcome: recovered, failed
// or exhausted
func IncrementRecovery(outcome string) {
	recoveriesTotal.WithLabelValues(outcome).Inc()
}

func IncrementCatchUpSeek() {
	catchUpSeeksTotal.Inc()
}

func IncrementEviction() {
	evictionsTotal.Inc()
}

func IncrementBoundaryJump() {
	boundaryJumpsTotal.Inc()
}

func SetBufferQueueDepth(n int) {
	bufferQueueDepth.Set(float64(n))
}

func SetPlaybackState(state int) {
	playbackState.Set(float64(state))
}

// RecordCaptureExport counts an exported capture; trigger is "auto" or
// "manual"
func RecordCaptureExport(trigger string, bytes int) {
	captureExportsTotal.WithLabelValues(trigger).Inc()
	captureBytesTotal.Add(float64(bytes))
}

// IncrementSnapshot counts a snapshot outcome: ok, failed or busy
func IncrementSnapshot(outcome string) {
	snapshotsTotal.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(count int) {
	sessionsActive.Set(float64(count))
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Debug metrics functions

// IncrementGoroutineCreated increments the goroutine creation counter
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed increments the goroutine destruction counter
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestRecordFrame(t *testing.T) {
	initialFrames := testutil.ToFloat64(framesReceivedTotal)
	initialBytes := testutil.ToFloat64(frameBytesTotal)

	RecordFrame(1024)
	RecordFrame(512)

	assert.Equal(t, initialFrames+2, testutil.ToFloat64(framesReceivedTotal))
	assert.Equal(t, initialBytes+1536, testutil.ToFloat64(frameBytesTotal))
}

func TestIncrementFrameRejected(t *testing.T) {
	initial := testutil.ToFloat64(framesRejectedTotal.WithLabelValues("empty"))

	IncrementFrameRejected("empty")
	IncrementFrameRejected("empty")
	IncrementFrameRejected("decoder_busy")

	assert.Equal(t, initial+2, testutil.ToFloat64(framesRejectedTotal.WithLabelValues("empty")))
}

func TestGauges(t *testing.T) {
	SetPacketsPerSecond(25)
	assert.Equal(t, float64(25), testutil.ToFloat64(packetsPerSecond))

	SetBufferQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(bufferQueueDepth))

	SetPlaybackState(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(playbackState))

	for _, n := range []int{0, 2, 1, 0} {
		SetActiveSessions(n)
		assert.Equal(t, float64(n), testutil.ToFloat64(sessionsActive))
	}
}

func TestIncrementReconnects(t *testing.T) {
	initialSocket := testutil.ToFloat64(reconnectsTotal.WithLabelValues("socket"))
	initialPlayer := testutil.ToFloat64(reconnectsTotal.WithLabelValues("player"))

	IncrementReconnects("socket")
	for i := 0; i < 3; i++ {
		IncrementReconnects("player")
	}

	assert.Equal(t, initialSocket+1, testutil.ToFloat64(reconnectsTotal.WithLabelValues("socket")))
	assert.Equal(t, initialPlayer+3, testutil.ToFloat64(reconnectsTotal.WithLabelValues("player")))
}

func TestRecordConnectionDuration(t *testing.T) {
	durations := []float64{10.5, 30.2, 60.0, 120.5, 300.0}
	for _, d := range durations {
		RecordConnectionDuration(d)
	}

	var m dto.Metric
	assert.NoError(t, connectionDuration.Write(&m))
	assert.GreaterOrEqual(t, m.Histogram.GetSampleCount(), uint64(len(durations)))
}

func TestBufferControllerCounters(t *testing.T) {
	initialAppends := testutil.ToFloat64(appendsTotal)
	initialBytes := testutil.ToFloat64(appendBytesTotal)
	initialErrors := testutil.ToFloat64(appendErrorsTotal)
	initialSeeks := testutil.ToFloat64(catchUpSeeksTotal)
	initialEvictions := testutil.ToFloat64(evictionsTotal)
	initialJumps := testutil.ToFloat64(boundaryJumpsTotal)
	initialRecovered := testutil.ToFloat64(recoveriesTotal.WithLabelValues("recovered"))

	RecordAppend(4096)
	IncrementAppendError()
	IncrementCatchUpSeek()
	IncrementEviction()
	IncrementBoundaryJump()
	IncrementRecovery("recovered")

	assert.Equal(t, initialAppends+1, testutil.ToFloat64(appendsTotal))
	assert.Equal(t, initialBytes+4096, testutil.ToFloat64(appendBytesTotal))
	assert.Equal(t, initialErrors+1, testutil.ToFloat64(appendErrorsTotal))
	assert.Equal(t, initialSeeks+1, testutil.ToFloat64(catchUpSeeksTotal))
	assert.Equal(t, initialEvictions+1, testutil.ToFloat64(evictionsTotal))
	assert.Equal(t, initialJumps+1, testutil.ToFloat64(boundaryJumpsTotal))
	assert.Equal(t, initialRecovered+1, testutil.ToFloat64(recoveriesTotal.WithLabelValues("recovered")))
}

func TestExportCounters(t *testing.T) {
	initialAuto := testutil.ToFloat64(captureExportsTotal.WithLabelValues("auto"))
	initialBytes := testutil.ToFloat64(captureBytesTotal)
	initialOK := testutil.ToFloat64(snapshotsTotal.WithLabelValues("ok"))

	RecordCaptureExport("auto", 2048)
	IncrementSnapshot("ok")

	assert.Equal(t, initialAuto+1, testutil.ToFloat64(captureExportsTotal.WithLabelValues("auto")))
	assert.Equal(t, initialBytes+2048, testutil.ToFloat64(captureBytesTotal))
	assert.Equal(t, initialOK+1, testutil.ToFloat64(snapshotsTotal.WithLabelValues("ok")))
}

func TestRecordHTTPRequest(t *testing.T) {
	initial := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/player/status", "200"))

	RecordHTTPRequest("GET", "/api/v1/player/status", "200", 0.002)

	assert.Equal(t, initial+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/v1/player/status", "200")))
}

func TestConcurrentMetricsUpdates(t *testing.T) {
	initialFrames := testutil.ToFloat64(framesReceivedTotal)
	initialErrors := testutil.ToFloat64(transportErrorsTotal)
	initialSegments := testutil.ToFloat64(decodeSegmentsTotal)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				RecordFrame(10)
				IncrementTransportError()
				IncrementDecodeSegments()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, initialFrames+1000, testutil.ToFloat64(framesReceivedTotal))
	assert.Equal(t, initialErrors+1000, testutil.ToFloat64(transportErrorsTotal))
	assert.Equal(t, initialSegments+1000, testutil.ToFloat64(decodeSegmentsTotal))
}

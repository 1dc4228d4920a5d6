package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/camview/internal/artifact"
	"github.com/zsiec/camview/internal/errors"
	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/capture"
	"github.com/zsiec/camview/internal/player/eventloop"
	"github.com/zsiec/camview/internal/player/mse"
	"github.com/zsiec/camview/internal/sink/timeline"
)

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 0.001
	cfg.RateLimitBurst = 2
	api := newTestAPI(t, cfg)

	for i := 0; i < 2; i++ {
		rr := api.do(http.MethodGet, "/api/v1/player/status", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := api.do(http.MethodGet, "/api/v1/player/status", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, errors.ErrorTypeRateLimit, decodeError(t, rr).Type)

	// Health checks bypass the limiter
	rr = api.do(http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Other clients have their own bucket
	req := httptest.NewRequest(http.MethodGet, "/api/v1/player/status", nil)
	req.RemoteAddr = "10.0.0.9:5000"
	other := httptest.NewRecorder()
	api.handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newClientLimiter(1, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, l.allow(fmt.Sprintf("10.0.0.%d", i)))
	}
	assert.False(t, l.allow("10.0.0.0"))
	assert.Equal(t, 5, l.size())

	now = now.Add(limiterIdle + 2*time.Minute)
	assert.True(t, l.allow("10.0.0.0"))
	assert.Equal(t, 1, l.size())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:40000"
	assert.Equal(t, "192.168.1.5", clientKey(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientKey(req))
}

func TestTimeoutMiddleware(t *testing.T) {
	srv := New(testServerConfig(), nil)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	h := srv.timeoutMiddleware(20 * time.Millisecond)(slow)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/player/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h = srv.timeoutMiddleware(20 * time.Millisecond)(fast)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/player/events", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	assert.NotNil(t, srv.timeoutMiddleware(0)(fast))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err     error
		errType errors.ErrorType
		status  int
	}{
		{player.ErrSnapshotInFlight, errors.ErrorTypeBusy, http.StatusConflict},
		{player.ErrNotStarted, errors.ErrorTypeConflict, http.StatusConflict},
		{player.ErrDestroyed, errors.ErrorTypeServiceDown, http.StatusServiceUnavailable},
		{eventloop.ErrClosed, errors.ErrorTypeServiceDown, http.StatusServiceUnavailable},
		{player.ErrRetriesExhausted, errors.ErrorTypeTransport, http.StatusBadGateway},
		{capture.ErrNotActive, errors.ErrorTypeCapture, http.StatusConflict},
		{fmt.Errorf("failed to grab frame: %w", timeline.ErrNoFrame), errors.ErrorTypeMedia, http.StatusUnprocessableEntity},
		{mse.ErrCodecUnsupported, errors.ErrorTypeMedia, http.StatusUnprocessableEntity},
		{artifact.ErrNotFound, errors.ErrorTypeNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %q", artifact.ErrInvalidName, "../x"), errors.ErrorTypeValidation, http.StatusBadRequest},
		{context.DeadlineExceeded, errors.ErrorTypeTimeout, http.StatusRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := classify(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.errType, appErr.Type)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}

	assert.Nil(t, classify(assert.AnError))
}

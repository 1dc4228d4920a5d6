package registry

import (
	"context"
	"time"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
)

// Snapshot produces the current record of a session.
type Snapshot func(ctx context.Context) (*Session, error)

// Heartbeat keeps one session registered until ctx is done, then removes
// it. Failed beats are logged and retried on the next tick.
type Heartbeat struct {
	registry Registry
	snapshot Snapshot
	interval time.Duration
	logger   logger.Logger

	beats    *metrics.Counter
	failures *metrics.Counter
	latency  *metrics.Histogram
}

func NewHeartbeat(r Registry, snapshot Snapshot, interval time.Duration, log logger.Logger) *Heartbeat {
	return &Heartbeat{
		registry: r,
		snapshot: snapshot,
		interval: interval,
		logger:   logger.WithComponent(logger.OrNull(log), "heartbeat"),
		beats:    metrics.NewCounter("registry_heartbeats_total", nil),
		failures: metrics.NewCounter("registry_heartbeat_failures_total", nil),
		latency:  metrics.NewHistogram("registry_heartbeat_duration_seconds", nil, []float64{.005, .01, .05, .1, .5, 1, 5}),
	}
}

// Run blocks until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	metrics.IncrementGoroutineCreated("heartbeat")
	defer metrics.IncrementGoroutineDestroyed("heartbeat")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	id := h.beat(ctx)
	for {
		select {
		case <-ticker.C:
			if beat := h.beat(ctx); beat != "" {
				id = beat
			}
		case <-ctx.Done():
			if id == "" {
				return
			}
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.registry.Unregister(cleanup, id); err != nil {
				h.logger.WithError(err).Warn("Failed to unregister session")
			}
			cancel()
			return
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) string {
	start := time.Now()
	defer func() { h.latency.Observe(time.Since(start).Seconds()) }()

	s, err := h.snapshot(ctx)
	if err != nil {
		h.failures.Inc()
		h.logger.WithError(err).Warn("Failed to snapshot session")
		return ""
	}
	if err := h.registry.Register(ctx, s); err != nil {
		h.failures.Inc()
		h.logger.WithError(err).Warn("Failed to refresh session")
		return s.ID
	}
	h.beats.Inc()
	return s.ID
}

package player

import (
	"time"

	"github.com/zsiec/camview/internal/config"
	"github.com/zsiec/camview/internal/player/ingest"
	"github.com/zsiec/camview/internal/player/mse"
)

// Config tunes the orchestrator and the controllers it creates.
type Config struct {
	ChannelID        int
	TransportRetries int
	ReconnectSettle  time.Duration
	PauseTerminate   time.Duration
	DecodeQueue      int

	Ingest ingest.Config
	Buffer mse.Config

	CaptureDefault time.Duration
	CaptureMax     time.Duration

	// SnapshotSettle waits a size-dependent delay before grabbing a frame.
	SnapshotSettle  bool
	SnapshotQuality int
}

func DefaultConfig() Config {
	return Config{
		TransportRetries: 3,
		ReconnectSettle:  500 * time.Millisecond,
		PauseTerminate:   100 * time.Millisecond,
		DecodeQueue:      64,
		Ingest:           ingest.DefaultConfig(),
		Buffer:           mse.DefaultConfig(),
		CaptureDefault:   20 * time.Second,
		CaptureMax:       10 * time.Minute,
		SnapshotQuality:  90,
	}
}

// ConfigFrom maps the player section of the service configuration.
func ConfigFrom(c *config.PlayerConfig) Config {
	return Config{
		ChannelID:        c.ChannelID,
		TransportRetries: c.TransportRetries,
		ReconnectSettle:  c.ReconnectSettle,
		PauseTerminate:   c.PauseTerminate,
		DecodeQueue:      c.Decode.QueueSize,
		Ingest: ingest.Config{
			DialTimeout:     c.Ingest.DialTimeout,
			MaxReconnects:   c.Ingest.MaxReconnects,
			ReconnectWindow: c.Ingest.ReconnectWindow,
			BaseDelay:       c.Ingest.BaseDelay,
			MaxDelay:        c.Ingest.MaxDelay,
			MaxJitter:       c.Ingest.MaxJitter,
			QueueSize:       c.Ingest.QueueSize,
			ReadLimit:       c.Ingest.ReadLimit,
		},
		Buffer: mse.Config{
			CatchUpReset:   c.Buffer.CatchUpReset,
			CatchUpGap:     c.Buffer.CatchUpGap,
			CatchUpBackoff: c.Buffer.CatchUpBackoff,
			SkipCount:      c.Buffer.SkipCount,
			EvictAfter:     c.Buffer.EvictAfter,
			EvictKeep:      c.Buffer.EvictKeep,
			ReinitDelay:    c.Buffer.ReinitDelay,
			MaxRecoveries:  c.Buffer.MaxRecoveries,
		},
		CaptureDefault:  c.Capture.DefaultDuration,
		CaptureMax:      c.Capture.MaxDuration,
		SnapshotSettle:  c.Snapshot.SettleDelay,
		SnapshotQuality: c.Snapshot.Quality,
	}
}

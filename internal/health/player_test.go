package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/decode"
	"github.com/zsiec/camview/internal/player/mse"
)

type stubStats struct {
	stats player.Stats
	err   error
}

func (s stubStats) Stats(ctx context.Context) (player.Stats, error) {
	return s.stats, s.err
}

func TestPlayerChecker(t *testing.T) {
	tests := []struct {
		name     string
		stats    player.Stats
		err      error
		wantErr  error
		degraded bool
		errMsg   string
	}{
		{
			name:  "idle",
			stats: player.Stats{RetriesLeft: 3},
		},
		{
			name:  "streaming",
			stats: player.Stats{URL: "ws://cam/live", Started: true, Connected: true, RetriesLeft: 3},
		},
		{
			name:    "destroyed",
			stats:   player.Stats{Destroyed: true},
			wantErr: ErrPlayerDestroyed,
		},
		{
			name:    "retries exhausted",
			stats:   player.Stats{URL: "ws://cam/live"},
			wantErr: ErrRetriesSpent,
		},
		{
			name:     "reconnecting",
			stats:    player.Stats{URL: "ws://cam/live", Started: true, RetriesLeft: 2},
			degraded: true,
			errMsg:   "not connected to ws://cam/live",
		},
		{
			name: "buffer error",
			stats: player.Stats{
				URL: "ws://cam/live", Started: true, Connected: true, RetriesLeft: 3,
				Buffer: &mse.Stats{State: mse.Error, Recoveries: 2},
			},
			degraded: true,
			errMsg:   "2 attempts",
		},
		{
			name:   "loop closed",
			err:    errors.New("event loop closed"),
			errMsg: "player unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewPlayerChecker(stubStats{stats: tt.stats, err: tt.err})
			assert.Equal(t, "player", checker.Name())

			err := checker.Check(context.Background())
			if tt.wantErr == nil && tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			assert.Equal(t, tt.degraded, IsDegraded(err))
		})
	}
}

func TestPlayerCheckerDetails(t *testing.T) {
	checker := NewPlayerChecker(stubStats{stats: player.Stats{
		Session:          "abc",
		Started:          true,
		Connected:        true,
		RetriesLeft:      3,
		PacketsPerSecond: 25,
		Stream:           decode.StreamInfo{Codec: "avc1.64001f", Width: 1280, Height: 720},
		Buffer:           &mse.Stats{State: mse.Normal},
	}})
	require.NoError(t, checker.Check(context.Background()))

	details := checker.Details()
	assert.Equal(t, "abc", details["session"])
	assert.Equal(t, 25, details["packets_per_second"])
	assert.Equal(t, "avc1.64001f", details["codec"])
	assert.Equal(t, "normal", details["buffer_state"])
}

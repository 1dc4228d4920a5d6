package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/mse"
)

var (
	ErrPlayerDestroyed = errors.New("player destroyed")
	ErrRetriesSpent    = errors.New("transport retries exhausted")
)

// StatsSource is the part of the player a PlayerChecker needs.
type StatsSource interface {
	Stats(ctx context.Context) (player.Stats, error)
}

// PlayerChecker reports the streaming pipeline's state. An idle player is
// healthy; a destroyed one or one that has given up reconnecting is down;
// a started player that is not connected or whose buffer is in error is
// degraded.
type PlayerChecker struct {
	source StatsSource
	last   player.Stats
}

func NewPlayerChecker(source StatsSource) *PlayerChecker {
	return &PlayerChecker{source: source}
}

func (c *PlayerChecker) Name() string {
	return "player"
}

func (c *PlayerChecker) Check(ctx context.Context) error {
	st, err := c.source.Stats(ctx)
	if err != nil {
		return fmt.Errorf("player unreachable: %w", err)
	}
	c.last = st

	switch {
	case st.Destroyed:
		return ErrPlayerDestroyed
	case st.URL != "" && !st.Started && st.RetriesLeft <= 0:
		return ErrRetriesSpent
	case st.Started && !st.Connected:
		return Degraded(fmt.Errorf("not connected to %s", st.URL))
	case st.Buffer != nil && st.Buffer.State == mse.Error:
		return Degraded(fmt.Errorf("media buffer recovering (%d attempts)", st.Buffer.Recoveries))
	}
	return nil
}

func (c *PlayerChecker) Details() map[string]interface{} {
	details := map[string]interface{}{
		"session":            c.last.Session,
		"started":            c.last.Started,
		"connected":          c.last.Connected,
		"retries_left":       c.last.RetriesLeft,
		"packets_per_second": c.last.PacketsPerSecond,
	}
	if c.last.Stream.Codec != "" {
		details["codec"] = c.last.Stream.Codec
	}
	if c.last.Buffer != nil {
		details["buffer_state"] = c.last.Buffer.State.String()
	}
	return details
}

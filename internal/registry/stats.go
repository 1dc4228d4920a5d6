package registry

import (
	"context"
	"time"

	"github.com/zsiec/camview/internal/player"
)

// StatsSource is the part of a player a heartbeat snapshots.
type StatsSource interface {
	Stats(ctx context.Context) (player.Stats, error)
}

// FromStats builds the registry record for a player on host.
func FromStats(host string, channelID int, st player.Stats, now time.Time) *Session {
	s := &Session{
		ID:               st.Session,
		Host:             host,
		URL:              st.URL,
		ChannelID:        channelID,
		State:            "idle",
		Started:          st.Started,
		Connected:        st.Connected,
		Codec:            st.Stream.Codec,
		Width:            st.Stream.Width,
		Height:           st.Stream.Height,
		PacketsPerSecond: st.PacketsPerSecond,
		RetriesLeft:      st.RetriesLeft,
		CreatedAt:        now,
		LastHeartbeat:    now,
	}
	if st.Buffer != nil {
		s.State = st.Buffer.State.String()
	}
	if st.Destroyed {
		s.State = "destroyed"
	}
	return s
}

// PlayerSnapshot adapts a player to a heartbeat Snapshot.
func PlayerSnapshot(src StatsSource, host string, channelID int) Snapshot {
	return func(ctx context.Context) (*Session, error) {
		st, err := src.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return FromStats(host, channelID, st, time.Now()), nil
	}
}

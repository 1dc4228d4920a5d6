package player

import (
	"time"

	"github.com/zsiec/camview/internal/player/decode"
)

// EventType names a player notification.
type EventType string

const (
	EventOpened         EventType = "opened"
	EventClosed         EventType = "closed"
	EventError          EventType = "error"
	EventWorkInProgress EventType = "workInProgress"

	EventStartPlay         EventType = "startPlay"
	EventMediaError        EventType = "mediaError"
	EventRecovered         EventType = "recovered"
	EventRecoveryExhausted EventType = "recoveryExhausted"
	EventStreamChanged     EventType = "streamChanged"

	EventCaptureExported  EventType = "captureExported"
	EventSnapshotExported EventType = "snapshotExported"
)

// Event is delivered to observers on the player's control thread.
type Event struct {
	Type    EventType `json:"type"`
	Session string    `json:"session"`
	Time    time.Time `json:"time"`

	Detail  string `json:"detail,omitempty"`
	Code    int    `json:"code,omitempty"`
	Working bool   `json:"working,omitempty"`

	Artifact string             `json:"artifact,omitempty"`
	Bytes    int                `json:"bytes,omitempty"`
	Stream   *decode.StreamInfo `json:"stream,omitempty"`

	Err error `json:"-"`
}

// Observer receives player events. OnEvent must not block.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

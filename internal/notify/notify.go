// Package notify delivers player events to the outside world: the log, an
// MQTT broker and WebSocket subscribers.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/player"
)

// Fanout forwards each event to every observer it holds. Observers may be
// added while events are flowing.
type Fanout struct {
	mu        sync.RWMutex
	observers []player.Observer
}

func NewFanout(observers ...player.Observer) *Fanout {
	return &Fanout{observers: observers}
}

func (f *Fanout) Add(o player.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

func (f *Fanout) OnEvent(e player.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.observers {
		o.OnEvent(e)
	}
}

// LogObserver writes events to a logger. Errors and exhausted recoveries
// are logged at error level, reconnect noise at debug.
type LogObserver struct {
	logger logger.Logger
}

func NewLogObserver(l logger.Logger) *LogObserver {
	return &LogObserver{logger: logger.WithComponent(logger.OrNull(l), "events")}
}

func (o *LogObserver) OnEvent(e player.Event) {
	fields := map[string]interface{}{
		"event":      string(e.Type),
		"session_id": e.Session,
	}
	if e.Detail != "" {
		fields["detail"] = e.Detail
	}
	if e.Code != 0 {
		fields["code"] = e.Code
	}
	if e.Artifact != "" {
		fields["artifact"] = e.Artifact
		fields["bytes"] = e.Bytes
	}
	if e.Stream != nil {
		fields["codec"] = e.Stream.Codec
		fields["width"] = e.Stream.Width
		fields["height"] = e.Stream.Height
	}

	o.logger.WithFields(fields).Log(level(e.Type), "Player event")
}

func level(t player.EventType) logrus.Level {
	switch t {
	case player.EventError, player.EventRecoveryExhausted:
		return logrus.ErrorLevel
	case player.EventMediaError, player.EventClosed:
		return logrus.WarnLevel
	case player.EventWorkInProgress:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

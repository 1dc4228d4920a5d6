// Package ingest delivers binary frames from the camera's WebSocket stream.
// A Channel runs on its own goroutines and talks to the player only through
// commands in and Messages out.
package ingest

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetries is carried in the Closed message sent when the reconnect
// budget is exhausted.
var ErrMaxRetries = errors.New("max reconnects reached")

// Close codes reported in Closed messages.
const (
	CloseNormal         = 1000
	CloseAbnormal       = 1006
	CloseRetriesReached = 4999
)

// Message is one event from a Channel: Opened, Closed, Failed or VideoData.
type Message interface {
	isMessage()
}

type Opened struct{}

type Closed struct {
	Code   int
	Reason string
}

type Failed struct {
	Err error
}

type VideoData struct {
	Payload []byte
}

func (Opened) isMessage()    {}
func (Closed) isMessage()    {}
func (Failed) isMessage()    {}
func (VideoData) isMessage() {}

func (c Closed) String() string {
	return fmt.Sprintf("closed (%d %s)", c.Code, c.Reason)
}

// Channel is the ingestion worker contract. All commands are asynchronous.
type Channel interface {
	// Connect opens url, unless already open or opening on the same url.
	Connect(url string)
	Disconnect()
	// Send forwards payload when the socket is open.
	Send(payload []byte)
	// Messages is closed after Terminate.
	Messages() <-chan Message
	Terminate()
}

// Config tunes a WebSocketChannel.
type Config struct {
	DialTimeout     time.Duration
	MaxReconnects   int
	ReconnectWindow time.Duration
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	MaxJitter       time.Duration
	QueueSize       int
	ReadLimit       int64
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:     10 * time.Second,
		MaxReconnects:   3,
		ReconnectWindow: time.Minute,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		MaxJitter:       300 * time.Millisecond,
		QueueSize:       64,
		ReadLimit:       8 << 20,
	}
}

// reconnects reports whether a close code should trigger a reconnect.
func reconnects(code int) bool {
	return code < 1000 || code > 1005
}

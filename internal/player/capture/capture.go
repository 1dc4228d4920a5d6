// Package capture accumulates the raw AnnexB bitstream of a live stream for
// a bounded period and exports it as one .h264 artifact.
package capture

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/zsiec/camview/internal/player/media"
)

// ErrNotActive is returned by Export when no capture is running.
var ErrNotActive = errors.New("capture not active")

const (
	// Bytes before the AnnexB payload in a transport frame.
	legacyHeaderSize = 64

	// Shortest capture accepted by Start.
	MinDuration = time.Second
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Session is one capture job. It is not safe for concurrent use; the player
// drives it from its control thread.
type Session struct {
	active   bool
	started  time.Time
	duration time.Duration
	parts    [][]byte
	total    int
}

// Status is a point-in-time view of a Session.
type Status struct {
	Active     bool          `json:"active"`
	Started    time.Time     `json:"started,omitempty"`
	Duration   time.Duration `json:"duration"`
	Parts      int           `json:"parts"`
	TotalBytes int           `json:"total_bytes"`
}

func New() *Session {
	return &Session{}
}

// Start begins a new capture, discarding anything previously accumulated.
func (s *Session) Start(duration time.Duration, now time.Time) {
	if duration < MinDuration {
		duration = MinDuration
	}
	s.active = true
	s.started = now
	s.duration = duration
	s.parts = nil
	s.total = 0
}

func (s *Session) Active() bool {
	return s.active
}

func (s *Session) Status() Status {
	return Status{
		Active:     s.active,
		Started:    s.started,
		Duration:   s.duration,
		Parts:      len(s.parts),
		TotalBytes: s.total,
	}
}

// Feed appends the bitstream of one transport frame, from its first start
// code at or after byte 64. Once the capture duration has elapsed the
// session exports itself and Feed returns the artifact.
func (s *Session) Feed(raw []byte, now time.Time) (media.Artifact, bool) {
	if !s.active || len(raw) <= legacyHeaderSize+len(startCode) {
		return media.Artifact{}, false
	}

	pos := StartCodeOffset(raw)
	if pos < 0 {
		return media.Artifact{}, false
	}

	part := make([]byte, len(raw)-pos)
	copy(part, raw[pos:])
	s.parts = append(s.parts, part)
	s.total += len(part)

	if now.Sub(s.started) >= s.duration {
		return s.export(now), true
	}
	return media.Artifact{}, false
}

// Export stops the capture and returns everything accumulated so far.
func (s *Session) Export(now time.Time) (media.Artifact, error) {
	if !s.active {
		return media.Artifact{}, ErrNotActive
	}
	return s.export(now), nil
}

func (s *Session) export(now time.Time) media.Artifact {
	out := make([]byte, 0, s.total)
	for _, part := range s.parts {
		out = append(out, part...)
	}

	s.active = false
	s.started = time.Time{}
	s.duration = 0
	s.parts = nil
	s.total = 0

	return media.Artifact{
		Name:        FileName(now),
		ContentType: media.ContentTypeH264,
		Data:        out,
		CreatedAt:   now,
	}
}

// StartCodeOffset returns the offset of the first 00 00 00 01 sequence at or
// after byte 64, or -1.
func StartCodeOffset(raw []byte) int {
	if len(raw) < legacyHeaderSize+len(startCode) {
		return -1
	}
	i := bytes.Index(raw[legacyHeaderSize:], startCode)
	if i < 0 {
		return -1
	}
	return legacyHeaderSize + i
}

// FileName is capture_<ISO-8601 UTC, millisecond precision, ':' and '.'
// replaced by '-'>.h264.
func FileName(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return "capture_" + strings.NewReplacer(":", "-", ".", "-").Replace(iso) + ".h264"
}

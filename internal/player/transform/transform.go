// Package transform turns raw transport frames into decode-worker input:
// it derives the frame timestamp and display duration, drops keepalive
// frames, and feeds an active capture.
package transform

import (
	"encoding/binary"
	"time"

	"github.com/zsiec/camview/internal/player/media"
)

// Duration policy constants, in microseconds.
const (
	FirstFrameDuration int64 = 40_000     // 25 fps
	SpecialDuration    int64 = 1_000_000  // trick play and out-of-range gaps
	MaxDuration        int64 = 10_000_000 // longest gap accepted as-is
)

// CmdVideo tags frames carrying video.
const CmdVideo = "video"

// Frame is the decode-worker input built from one transport frame.
type Frame struct {
	Cmd       string
	Data      []byte // synthetic header followed by the untouched transport frame
	VideoTime int64  // display duration, microseconds
	ChannelID int
	Timestamp uint32 // transport timestamp, seconds
	Index     uint64
}

// Mode selects the duration policy.
type Mode struct {
	Playback bool    `json:"playback"` // false for live preview
	Speed    float64 `json:"speed"`    // playback rate, 1 is normal
	Reverse  bool    `json:"reverse"`
}

// LiveMode is the default live preview mode.
var LiveMode = Mode{Speed: 1}

// Capture receives the raw frames while a capture is running.
type Capture interface {
	Active() bool
	Feed(raw []byte, now time.Time) (media.Artifact, bool)
}

// Counters mirrors the per-stream frame bookkeeping.
type Counters struct {
	FrameIndex    uint64    `json:"frame_index"`
	LastVideoTime time.Time `json:"last_video_time"`
	CurrentTime   uint32    `json:"current_time"`
	FirstFrame    bool      `json:"first_frame_seen"`
}

// Transformer is synchronous and not safe for concurrent use.
type Transformer struct {
	now       func() time.Time
	mode      Mode
	channelID int
	capture   Capture
	onExport  func(media.Artifact)

	counters Counters
}

type Option func(*Transformer)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) { t.now = now }
}

// WithCapture attaches a capture sink; onExport receives artifacts the
// capture produces when its duration elapses.
func WithCapture(c Capture, onExport func(media.Artifact)) Option {
	return func(t *Transformer) {
		t.capture = c
		t.onExport = onExport
	}
}

func WithChannel(id int) Option {
	return func(t *Transformer) { t.channelID = id }
}

func New(opts ...Option) *Transformer {
	t := &Transformer{
		now:  time.Now,
		mode: LiveMode,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transformer) SetMode(m Mode) {
	if m.Speed == 0 {
		m.Speed = 1
	}
	t.mode = m
}

func (t *Transformer) Mode() Mode {
	return t.mode
}

func (t *Transformer) Counters() Counters {
	return t.counters
}

// Reset forgets stream history so the next frame is treated as the first,
// and restores live mode.
func (t *Transformer) Reset() {
	t.counters = Counters{}
	t.mode = LiveMode
}

// Transform converts one transport frame. It reports false, with no side
// effects beyond the current timestamp, for frames that are entirely zero.
func (t *Transformer) Transform(raw []byte) (Frame, bool) {
	now := t.now()

	ts := FrameTimestamp(raw)
	if ts == 0 {
		ts = uint32(now.Unix())
	}
	t.counters.CurrentTime = ts

	if !HasPayload(raw) {
		return Frame{}, false
	}

	duration := t.duration(now)
	t.counters.FirstFrame = true
	t.counters.FrameIndex++
	t.counters.LastVideoTime = now

	data := make([]byte, HeaderSize+len(raw))
	EncodeHeader(data, Header{
		Codec:     CodecH264,
		IFrame:    true,
		Timestamp: uint64(now.UnixMicro()),
	})
	copy(data[HeaderSize:], raw)

	if t.capture != nil && t.capture.Active() {
		if art, exported := t.capture.Feed(raw, now); exported && t.onExport != nil {
			t.onExport(art)
		}
	}

	return Frame{
		Cmd:       CmdVideo,
		Data:      data,
		VideoTime: duration,
		ChannelID: t.channelID,
		Timestamp: ts,
		Index:     t.counters.FrameIndex,
	}, true
}

func (t *Transformer) duration(now time.Time) int64 {
	if !t.counters.FirstFrame {
		return FirstFrameDuration
	}

	elapsed := now.Sub(t.counters.LastVideoTime).Microseconds()

	switch {
	case !t.mode.Playback:
		if elapsed <= 0 || elapsed > MaxDuration {
			return SpecialDuration
		}
		return elapsed
	case t.mode.Reverse:
		return SpecialDuration
	case t.mode.Speed >= 4 || t.mode.Speed <= 0.125:
		return SpecialDuration
	default:
		d := int64(float64(elapsed) / t.mode.Speed)
		if d < 0 {
			return 0
		}
		if d > MaxDuration {
			return MaxDuration
		}
		return d
	}
}

// HasPayload reports whether raw contains any non-zero byte, scanning whole
// 32-bit words before the tail.
func HasPayload(raw []byte) bool {
	words := len(raw) / 4
	for i := 0; i < words; i++ {
		if binary.LittleEndian.Uint32(raw[i*4:]) != 0 {
			return true
		}
	}
	for _, b := range raw[words*4:] {
		if b != 0 {
			return true
		}
	}
	return false
}

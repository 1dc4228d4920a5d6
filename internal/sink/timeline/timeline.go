// Package timeline is a headless playback surface. It keeps appended media
// on a virtual timeline, advances a playback clock against the wall clock,
// optionally records the appended bitstream, and renders snapshots of the
// current group of pictures through ffmpeg.
package timeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/player/decode"
	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/mse"
)

// ErrNoFrame is returned by Grab before a key frame has been appended.
var ErrNoFrame = fmt.Errorf("no decodable frame buffered")

const (
	nalIDR = 5
	nalSPS = 7

	// Retained bitstream is capped so a stream without key frames cannot
	// grow it without bound.
	maxRetained = 16 << 20
)

// Surface implements mse.Surface. It is safe for concurrent use.
type Surface struct {
	mu sync.Mutex

	now        func() time.Time
	recorder   io.Writer
	ffmpegPath string
	timeout    time.Duration
	latency    time.Duration
	logger     logger.Logger

	buf     *sourceBuffer
	playing bool
	base    time.Duration // playback position when the clock last changed
	since   time.Time

	gop []byte // bitstream since the last key frame
}

type Option func(*Surface)

// WithRecorder copies every appended segment to w.
func WithRecorder(w io.Writer) Option {
	return func(s *Surface) { s.recorder = w }
}

// WithFFmpeg sets the binary used to render snapshots. An empty path looks
// ffmpeg up on PATH.
func WithFFmpeg(path string, timeout time.Duration) Option {
	return func(s *Surface) {
		s.ffmpegPath = path
		s.timeout = timeout
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Surface) { s.now = now }
}

// WithLatency delays update-end notifications, simulating a slow decoder.
func WithLatency(d time.Duration) Option {
	return func(s *Surface) { s.latency = d }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Surface) { s.logger = l }
}

func New(opts ...Option) *Surface {
	s := &Surface{
		now:     time.Now,
		timeout: 10 * time.Second,
		logger:  logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.WithComponent(logger.OrNull(s.logger), "timeline")
	if s.ffmpegPath == "" {
		if path, err := exec.LookPath("ffmpeg"); err == nil {
			s.ffmpegPath = path
		}
	}
	return s
}

// Supported reports whether codec can be attached. Only H.264 is.
func Supported(codec string) bool {
	return strings.HasPrefix(codec, "avc1.") || strings.HasPrefix(codec, "avc3.")
}

func (s *Surface) Attach(codec string, placement mse.Placement, h mse.SurfaceHandler) (mse.SourceBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf != nil {
		return nil, mse.ErrSurfaceBusy
	}
	if !Supported(codec) {
		return nil, fmt.Errorf("%w: %q", mse.ErrCodecUnsupported, codec)
	}

	s.buf = &sourceBuffer{
		surface:   s,
		codec:     codec,
		placement: placement,
		handler:   h,
	}
	s.gop = nil
	s.logger.WithField("codec", codec).Debug("Source buffer attached")
	return s.buf, nil
}

// Detach drops the source buffer and everything buffered in it.
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil {
		return
	}
	s.buf.detached = true
	s.buf = nil
	s.gop = nil
	s.playing = false
	s.base = 0
}

func (s *Surface) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position()
}

// position is the playback clock, held at the end of the buffered range
// it is in so playback stalls rather than running past the data.
func (s *Surface) position() time.Duration {
	pos := s.base
	if s.playing {
		pos += s.now().Sub(s.since)
	}
	if s.buf == nil {
		return pos
	}
	for _, r := range s.buf.ranges {
		if r.Contains(s.base) && pos > r.End {
			return r.End
		}
	}
	return pos
}

func (s *Surface) Seek(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t < 0 {
		t = 0
	}
	s.base = t
	s.since = s.now()
}

func (s *Surface) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil {
		return mse.ErrClosed
	}
	if !s.playing {
		s.since = s.now()
		s.playing = true
	}
	return nil
}

func (s *Surface) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playing {
		s.base = s.position()
		s.playing = false
	}
}

func (s *Surface) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.playing
}

// Buffered returns a copy of the buffered ranges.
func (s *Surface) Buffered() []media.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil {
		return nil
	}
	return append([]media.TimeRange(nil), s.buf.ranges...)
}

// retain keeps the bitstream needed to render the latest picture: the
// segment carrying the most recent key frame and everything after it.
func (s *Surface) retain(data []byte) {
	if keyFrame(data) {
		s.gop = s.gop[:0]
	}
	if len(s.gop)+len(data) > maxRetained {
		s.gop = nil
		return
	}
	s.gop = append(s.gop, data...)
}

func keyFrame(data []byte) bool {
	for _, nal := range decode.SplitAnnexB(data) {
		if len(nal) == 0 {
			continue
		}
		switch nal[0] & 0x1f {
		case nalIDR, nalSPS:
			return true
		}
	}
	return false
}

// Grab decodes the buffered group of pictures with ffmpeg and returns its
// last picture.
func (s *Surface) Grab(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	gop := append([]byte(nil), s.gop...)
	path := s.ffmpegPath
	timeout := s.timeout
	s.mu.Unlock()

	if len(gop) == 0 {
		return nil, ErrNoFrame
	}
	if path == "" {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, path,
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-update", "1", "-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(gop)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg snapshot failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

type sourceBuffer struct {
	surface   *Surface
	codec     string
	placement mse.Placement
	handler   mse.SurfaceHandler

	ranges   []media.TimeRange
	next     time.Duration // end of the last appended segment
	updating bool
	detached bool
}

// place puts a segment of length d at the end of the previous one, growing
// the last range when it is contiguous.
func (b *sourceBuffer) place(d time.Duration) {
	start := b.next
	b.next += d

	if n := len(b.ranges); n > 0 && b.ranges[n-1].End == start {
		b.ranges[n-1].End = b.next
		return
	}
	b.ranges = append(b.ranges, media.TimeRange{Start: start, End: b.next})
}

// Append places data right after the previous segment. The
// recorder sees the bytes before UpdateEnd fires.
func (b *sourceBuffer) Append(data []byte, duration time.Duration) error {
	s := b.surface
	s.mu.Lock()

	if b.detached {
		s.mu.Unlock()
		return mse.ErrClosed
	}
	if b.updating {
		s.mu.Unlock()
		return fmt.Errorf("append while updating")
	}

	if s.recorder != nil {
		if _, err := s.recorder.Write(data); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to record segment: %w", err)
		}
	}
	s.retain(data)

	b.place(duration)
	b.updating = true
	s.mu.Unlock()

	b.complete()
	return nil
}

func (b *sourceBuffer) Remove(start, end time.Duration) error {
	s := b.surface
	s.mu.Lock()

	if b.detached {
		s.mu.Unlock()
		return mse.ErrClosed
	}
	if b.updating {
		s.mu.Unlock()
		return fmt.Errorf("remove while updating")
	}

	b.ranges = cut(b.ranges, start, end)
	b.updating = true
	s.mu.Unlock()

	b.complete()
	return nil
}

func (b *sourceBuffer) Updating() bool {
	b.surface.mu.Lock()
	defer b.surface.mu.Unlock()
	return b.updating
}

func (b *sourceBuffer) Buffered() []media.TimeRange {
	b.surface.mu.Lock()
	defer b.surface.mu.Unlock()
	return append([]media.TimeRange(nil), b.ranges...)
}

// complete clears the updating flag and notifies the handler, after the
// configured latency.
func (b *sourceBuffer) complete() {
	done := func() {
		b.surface.mu.Lock()
		b.updating = false
		detached := b.detached
		b.surface.mu.Unlock()

		if !detached {
			b.handler.UpdateEnd()
		}
	}

	if b.surface.latency > 0 {
		time.AfterFunc(b.surface.latency, done)
		return
	}
	go done()
}

// cut removes [start, end) from ranges, splitting a range that straddles
// the interval.
func cut(ranges []media.TimeRange, start, end time.Duration) []media.TimeRange {
	var kept []media.TimeRange
	for _, r := range ranges {
		if r.End <= start || r.Start >= end {
			kept = append(kept, r)
			continue
		}
		if r.Start < start {
			kept = append(kept, media.TimeRange{Start: r.Start, End: start})
		}
		if r.End > end {
			kept = append(kept, media.TimeRange{Start: end, End: r.End})
		}
	}
	return kept
}

package timeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/mse"
)

const codec = "avc1.42C01E"

var (
	idr   = []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xce, 0, 0, 0, 1, 0x65, 0x88}
	slice = []byte{0, 0, 0, 1, 0x41, 0x9a}
)

type handler struct {
	ends   chan struct{}
	errors chan error
}

func newHandler() *handler {
	return &handler{ends: make(chan struct{}, 16), errors: make(chan error, 4)}
}

func (h *handler) UpdateEnd()           { h.ends <- struct{}{} }
func (h *handler) MediaError(err error) { h.errors <- err }

func (h *handler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.ends:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update end")
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAttach(t *testing.T) {
	s := New()

	_, err := s.Attach("hvc1.1.6.L93.B0", mse.PlacementSequence, newHandler())
	assert.ErrorIs(t, err, mse.ErrCodecUnsupported)

	_, err = s.Attach(codec, mse.PlacementSequence, newHandler())
	require.NoError(t, err)

	_, err = s.Attach(codec, mse.PlacementSequence, newHandler())
	assert.ErrorIs(t, err, mse.ErrSurfaceBusy)

	s.Detach()
	_, err = s.Attach(codec, mse.PlacementSequence, newHandler())
	assert.NoError(t, err)
}

func TestAppendExtendsTimeline(t *testing.T) {
	var rec bytes.Buffer
	s := New(WithRecorder(&rec))
	h := newHandler()

	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)

	require.NoError(t, buf.Append(idr, 40*time.Millisecond))
	h.wait(t)
	require.NoError(t, buf.Append(slice, 60*time.Millisecond))
	h.wait(t)

	assert.False(t, buf.Updating())
	assert.Equal(t, []media.TimeRange{{Start: 0, End: 100 * time.Millisecond}}, buf.Buffered())
	assert.Equal(t, append(append([]byte(nil), idr...), slice...), rec.Bytes())
}

func TestAppendWhileUpdating(t *testing.T) {
	s := New(WithLatency(time.Hour))
	buf, err := s.Attach(codec, mse.PlacementSequence, newHandler())
	require.NoError(t, err)

	require.NoError(t, buf.Append(idr, time.Second))
	assert.True(t, buf.Updating())
	assert.Error(t, buf.Append(slice, time.Second))
	assert.Error(t, buf.Remove(0, time.Second))
}

func TestRemoveSplitsRanges(t *testing.T) {
	s := New()
	h := newHandler()
	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)

	require.NoError(t, buf.Append(idr, 10*time.Second))
	h.wait(t)

	require.NoError(t, buf.Remove(2*time.Second, 4*time.Second))
	h.wait(t)
	assert.Equal(t, []media.TimeRange{
		{Start: 0, End: 2 * time.Second},
		{Start: 4 * time.Second, End: 10 * time.Second},
	}, buf.Buffered())

	// the next segment continues after the last one, not after the gap
	require.NoError(t, buf.Append(slice, time.Second))
	h.wait(t)
	assert.Equal(t, media.TimeRange{Start: 4 * time.Second, End: 11 * time.Second}, buf.Buffered()[1])

	require.NoError(t, buf.Remove(0, 11*time.Second))
	h.wait(t)
	assert.Empty(t, buf.Buffered())

	require.NoError(t, buf.Append(slice, time.Second))
	h.wait(t)
	assert.Equal(t, []media.TimeRange{{Start: 11 * time.Second, End: 12 * time.Second}}, buf.Buffered())
}

func TestDetachedBufferIsClosed(t *testing.T) {
	s := New()
	buf, err := s.Attach(codec, mse.PlacementSequence, newHandler())
	require.NoError(t, err)

	s.Detach()
	assert.ErrorIs(t, buf.Append(idr, time.Second), mse.ErrClosed)
	assert.ErrorIs(t, buf.Remove(0, time.Second), mse.ErrClosed)
	assert.Nil(t, s.Buffered())
}

func TestPlaybackClock(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	s := New(WithClock(clk.Now))
	h := newHandler()

	assert.ErrorIs(t, s.Play(), mse.ErrClosed)

	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)
	require.NoError(t, buf.Append(idr, 5*time.Second))
	h.wait(t)

	assert.True(t, s.Paused())
	require.NoError(t, s.Play())
	assert.False(t, s.Paused())

	clk.Advance(2 * time.Second)
	assert.Equal(t, 2*time.Second, s.CurrentTime())

	// stalls at the end of the buffered range
	clk.Advance(10 * time.Second)
	assert.Equal(t, 5*time.Second, s.CurrentTime())

	s.Seek(time.Second)
	assert.Equal(t, time.Second, s.CurrentTime())

	clk.Advance(500 * time.Millisecond)
	s.Pause()
	clk.Advance(time.Second)
	assert.Equal(t, 1500*time.Millisecond, s.CurrentTime())
	assert.True(t, s.Paused())
}

func TestRetainedGOP(t *testing.T) {
	s := New()
	h := newHandler()
	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)

	_, err = s.Grab(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)

	for _, seg := range [][]byte{idr, slice, slice, idr, slice} {
		require.NoError(t, buf.Append(seg, 40*time.Millisecond))
		h.wait(t)
	}

	s.mu.Lock()
	gop := append([]byte(nil), s.gop...)
	s.mu.Unlock()
	assert.Equal(t, append(append([]byte(nil), idr...), slice...), gop)

	assert.True(t, keyFrame(idr))
	assert.False(t, keyFrame(slice))
}

func TestGrabThroughFFmpeg(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script in place of ffmpeg")
	}

	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))
	pngPath := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(pngPath, encoded.Bytes(), 0o644))

	script := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat > /dev/null\ncat "+pngPath+"\n"), 0o755))

	s := New(WithFFmpeg(script, 5*time.Second))
	h := newHandler()
	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)
	require.NoError(t, buf.Append(idr, 40*time.Millisecond))
	h.wait(t)

	got, err := s.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), got.Bounds())
	r, _, _, _ := got.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestGrabFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script in place of ffmpeg")
	}

	script := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'Invalid data' >&2\nexit 1\n"), 0o755))

	s := New(WithFFmpeg(script, 5*time.Second))
	h := newHandler()
	buf, err := s.Attach(codec, mse.PlacementSequence, h)
	require.NoError(t, err)
	require.NoError(t, buf.Append(idr, 40*time.Millisecond))
	h.wait(t)

	_, err = s.Grab(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("avc1.64001F"))
	assert.True(t, Supported("avc3.42E01E"))
	assert.False(t, Supported(""))
	assert.False(t, Supported("hvc1.1.6.L93.B0"))
}

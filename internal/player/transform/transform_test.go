package transform

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/camview/internal/player/capture"
	"github.com/zsiec/camview/internal/player/media"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

// transportFrame builds a size-byte frame with timestamp ts and a start code
// at byte 64.
func transportFrame(ts uint32, size int) []byte {
	raw := make([]byte, size)
	binary.BigEndian.PutUint32(raw[12:], ts)
	copy(raw[64:], []byte{0, 0, 0, 1, 0x65})
	for i := 69; i < size; i++ {
		raw[i] = byte(i)
	}
	return raw
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	ts := uint64(1_700_000_000_123_456)
	EncodeHeader(buf, Header{Codec: CodecH264, IFrame: true, Timestamp: ts})

	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[56:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[60:]))
	assert.Equal(t, uint32(ts&0xFFFFFFFF), binary.LittleEndian.Uint32(buf[80:]))
	assert.Equal(t, uint32(ts>>32), binary.LittleEndian.Uint32(buf[84:]))
	assert.Equal(t, byte(0), buf[0])

	h, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, Header{Codec: CodecH264, IFrame: true, Timestamp: ts}, h)

	_, err = ParseHeader(buf[:40])
	assert.Error(t, err)
}

func TestFrameTimestamp(t *testing.T) {
	raw := make([]byte, 128)
	copy(raw[8:16], []byte{0x00, 0x00, 0x00, 0x00, 0x64, 0x8A, 0x1B, 0x2C})
	assert.Equal(t, uint32(0x648A1B2C), FrameTimestamp(raw))

	// Leading 4 bytes of the field are ignored
	copy(raw[8:12], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.Equal(t, uint32(0x648A1B2C), FrameTimestamp(raw))

	assert.Equal(t, uint32(0), FrameTimestamp(raw[:10]))
}

func TestHasPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{"empty", nil, false},
		{"all zero aligned", make([]byte, 128), false},
		{"all zero unaligned", make([]byte, 131), false},
		{"nonzero in words", append([]byte{0, 0, 0, 2}, make([]byte, 60)...), true},
		{"nonzero in tail", append(make([]byte, 128), 0, 0, 9), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPayload(tt.raw))
		})
	}
}

func TestTransformRejectsZeroFrames(t *testing.T) {
	clk := newClock()
	tr := New(WithClock(clk.now))

	for _, size := range []int{0, 3, 64, 1024, 1027} {
		f, ok := tr.Transform(make([]byte, size))
		assert.False(t, ok)
		assert.Equal(t, Frame{}, f)
	}

	c := tr.Counters()
	assert.Equal(t, uint64(0), c.FrameIndex)
	assert.False(t, c.FirstFrame)
}

func TestTransformTimestamp(t *testing.T) {
	clk := newClock()
	tr := New(WithClock(clk.now), WithChannel(3))

	raw := transportFrame(0x648A1B2C, 256)
	f, ok := tr.Transform(raw)
	require.True(t, ok)

	assert.Equal(t, uint32(0x648A1B2C), f.Timestamp)
	assert.Equal(t, uint32(0x648A1B2C), tr.Counters().CurrentTime)
	assert.Equal(t, CmdVideo, f.Cmd)
	assert.Equal(t, 3, f.ChannelID)
	assert.Equal(t, uint64(1), f.Index)

	require.Len(t, f.Data, HeaderSize+len(raw))
	assert.Equal(t, raw, f.Data[HeaderSize:])

	h, err := ParseHeader(f.Data)
	require.NoError(t, err)
	assert.Equal(t, CodecH264, h.Codec)
	assert.True(t, h.IFrame)
	assert.Equal(t, uint64(clk.t.UnixMicro()), h.Timestamp)

	// Zero timestamp falls back to wall clock seconds
	f, ok = tr.Transform(transportFrame(0, 256))
	require.True(t, ok)
	assert.Equal(t, uint32(clk.t.Unix()), f.Timestamp)
}

func TestTransformDoesNotAliasInput(t *testing.T) {
	tr := New(WithClock(newClock().now))
	raw := transportFrame(1, 128)
	f, ok := tr.Transform(raw)
	require.True(t, ok)

	raw[100] = 0xEE
	assert.NotEqual(t, byte(0xEE), f.Data[HeaderSize+100])
}

func TestLiveDurations(t *testing.T) {
	clk := newClock()
	tr := New(WithClock(clk.now))

	var durations []int64
	for i := 0; i < 100; i++ {
		f, ok := tr.Transform(transportFrame(uint32(1000+i), 1024))
		require.True(t, ok)
		durations = append(durations, f.VideoTime)
		clk.advance(40 * time.Millisecond)
	}

	assert.Equal(t, FirstFrameDuration, durations[0])
	for _, d := range durations[1:] {
		assert.Equal(t, int64(40_000), d)
	}
	assert.Equal(t, uint64(100), tr.Counters().FrameIndex)
}

func TestDurationPolicy(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		elapsed time.Duration
		want    int64
	}{
		{"live normal", LiveMode, 33 * time.Millisecond, 33_000},
		{"live zero gap", LiveMode, 0, SpecialDuration},
		{"live negative gap", LiveMode, -time.Second, SpecialDuration},
		{"live at max", LiveMode, 10 * time.Second, MaxDuration},
		{"live over max", LiveMode, 11 * time.Second, SpecialDuration},
		{"playback normal", Mode{Playback: true, Speed: 1}, 40 * time.Millisecond, 40_000},
		{"playback double speed", Mode{Playback: true, Speed: 2}, 40 * time.Millisecond, 20_000},
		{"playback half speed", Mode{Playback: true, Speed: 0.5}, 40 * time.Millisecond, 80_000},
		{"playback overflow", Mode{Playback: true, Speed: 0.25}, 3 * time.Second, MaxDuration},
		{"playback negative", Mode{Playback: true, Speed: 1}, -time.Second, 0},
		{"playback fast", Mode{Playback: true, Speed: 4}, 40 * time.Millisecond, SpecialDuration},
		{"playback slow", Mode{Playback: true, Speed: 0.125}, 40 * time.Millisecond, SpecialDuration},
		{"playback reverse", Mode{Playback: true, Speed: 1, Reverse: true}, 40 * time.Millisecond, SpecialDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			tr := New(WithClock(clk.now))
			tr.SetMode(tt.mode)

			_, ok := tr.Transform(transportFrame(1, 128))
			require.True(t, ok)

			clk.advance(tt.elapsed)
			f, ok := tr.Transform(transportFrame(1, 128))
			require.True(t, ok)
			assert.Equal(t, tt.want, f.VideoTime)
		})
	}
}

func TestResetRestoresFirstFrame(t *testing.T) {
	clk := newClock()
	tr := New(WithClock(clk.now))
	tr.SetMode(Mode{Playback: true, Speed: 2, Reverse: true})

	tr.Transform(transportFrame(1, 128))
	clk.advance(time.Second)
	tr.Reset()

	assert.Equal(t, LiveMode, tr.Mode())
	f, ok := tr.Transform(transportFrame(1, 128))
	require.True(t, ok)
	assert.Equal(t, FirstFrameDuration, f.VideoTime)
	assert.Equal(t, uint64(1), f.Index)
}

func TestSetModeDefaultsSpeed(t *testing.T) {
	tr := New()
	tr.SetMode(Mode{Playback: true})
	assert.Equal(t, float64(1), tr.Mode().Speed)
}

func TestTransformFeedsCapture(t *testing.T) {
	clk := newClock()
	session := capture.New()

	var exported []media.Artifact
	tr := New(WithClock(clk.now), WithCapture(session, func(a media.Artifact) {
		exported = append(exported, a)
	}))

	// Not yet capturing
	tr.Transform(transportFrame(1, 200))
	assert.Equal(t, 0, session.Status().Parts)

	session.Start(5*time.Second, clk.t)

	expected := 0
	for i := 0; i < 131 && len(exported) == 0; i++ {
		raw := transportFrame(uint32(i), 200)
		expected += len(raw) - 64
		_, ok := tr.Transform(raw)
		require.True(t, ok)
		clk.advance(40 * time.Millisecond)
	}

	require.Len(t, exported, 1)
	assert.Len(t, exported[0].Data, expected)
	assert.False(t, session.Active())

	// Zero frames never reach the capture
	session.Start(time.Minute, clk.t)
	tr.Transform(make([]byte, 200))
	assert.Equal(t, 0, session.Status().Parts)
}

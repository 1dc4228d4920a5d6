package decode

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/transform"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Muxer turns decode-worker input frames into appendable segments. A muxer
// is driven by a single worker goroutine.
type Muxer interface {
	// Mux consumes one frame. It may return no segments while it waits for
	// stream parameters or a key frame.
	Mux(f transform.Frame) ([]media.Segment, error)
	// Reset drops partial state; output resumes at the next key frame.
	Reset()
	Close() error
}

// StreamInfo describes the stream once its SPS has been seen.
type StreamInfo struct {
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// AnnexBMuxer emits one AnnexB access unit per frame, tagged with the codec
// string derived from the stream's SPS. Output starts at the first IDR
// after an SPS and PPS, and parameter sets are repeated in front of every
// IDR that lacks them.
type AnnexBMuxer struct {
	sps      []byte
	pps      []byte
	info     StreamInfo
	synced   bool
	onStream func(StreamInfo)
}

type MuxerOption func(*AnnexBMuxer)

// OnStreamInfo registers a callback fired whenever the stream's SPS
// changes. It runs on the worker goroutine.
func OnStreamInfo(fn func(StreamInfo)) MuxerOption {
	return func(m *AnnexBMuxer) { m.onStream = fn }
}

func NewAnnexBMuxer(opts ...MuxerOption) *AnnexBMuxer {
	m := &AnnexBMuxer{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *AnnexBMuxer) Info() StreamInfo {
	return m.info
}

func (m *AnnexBMuxer) Mux(f transform.Frame) ([]media.Segment, error) {
	h, err := transform.ParseHeader(f.Data)
	if err != nil {
		return nil, err
	}
	if h.Codec != transform.CodecH264 {
		return nil, fmt.Errorf("%w: codec id %d", ErrUnsupportedCodec, h.Codec)
	}

	payloadStart := transform.HeaderSize + transform.LegacyHeaderSize
	if len(f.Data) <= payloadStart {
		return nil, nil
	}

	var (
		units  [][]byte
		hasIDR bool
		hasSPS bool
		hasPPS bool
	)
	for _, nal := range SplitAnnexB(f.Data[payloadStart:]) {
		switch nalType(nal) {
		case nalSPS:
			if err := m.updateSPS(nal); err != nil {
				return nil, err
			}
			hasSPS = true
		case nalPPS:
			m.pps = append(m.pps[:0], nal...)
			hasPPS = true
		case nalIDR:
			hasIDR = true
		case nalAUD:
			continue
		}
		units = append(units, nal)
	}

	if len(units) == 0 || m.sps == nil || m.pps == nil {
		return nil, nil
	}

	if !m.synced {
		if !hasIDR {
			return nil, nil
		}
		m.synced = true
	}

	if hasIDR && (!hasSPS || !hasPPS) {
		prefix := make([][]byte, 0, 2+len(units))
		if !hasSPS {
			prefix = append(prefix, m.sps)
		}
		if !hasPPS {
			prefix = append(prefix, m.pps)
		}
		units = append(prefix, units...)
	}

	return []media.Segment{{
		Data:     joinAnnexB(units),
		Codec:    m.info.Codec,
		Duration: time.Duration(f.VideoTime) * time.Microsecond,
	}}, nil
}

func (m *AnnexBMuxer) updateSPS(nal []byte) error {
	sps, err := ParseSPS(nal)
	if err != nil {
		return err
	}

	m.sps = append(m.sps[:0], nal...)
	info := StreamInfo{Codec: sps.Codec(), Width: sps.Width, Height: sps.Height}
	if info != m.info {
		m.info = info
		if m.onStream != nil {
			m.onStream(info)
		}
	}
	return nil
}

func (m *AnnexBMuxer) Reset() {
	m.synced = false
}

func (m *AnnexBMuxer) Close() error {
	m.sps = nil
	m.pps = nil
	m.synced = false
	return nil
}

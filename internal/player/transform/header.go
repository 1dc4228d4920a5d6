package transform

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the synthetic header prepended to every transport frame
	// before it is handed to the decode worker.
	HeaderSize = 88

	// LegacyHeaderSize is the reserved header at the start of a transport
	// frame; the AnnexB bitstream follows it.
	LegacyHeaderSize = 64

	offsetCodec     = 56
	offsetIFrame    = 60
	offsetTimeLow   = 80
	offsetTimeHigh  = 84
	offsetTimestamp = 8
)

// Codec ids carried in the synthetic header.
const (
	CodecH264 uint32 = 1
)

// Header is the decoded form of the synthetic frame header.
type Header struct {
	Codec     uint32
	IFrame    bool
	Timestamp uint64 // microseconds since the Unix epoch
}

// EncodeHeader writes h into dst, which must hold at least HeaderSize bytes.
// Unused bytes are zeroed.
func EncodeHeader(dst []byte, h Header) {
	for i := range dst[:HeaderSize] {
		dst[i] = 0
	}

	binary.LittleEndian.PutUint32(dst[offsetCodec:], h.Codec)
	if h.IFrame {
		binary.LittleEndian.PutUint32(dst[offsetIFrame:], 1)
	}
	binary.LittleEndian.PutUint32(dst[offsetTimeLow:], uint32(h.Timestamp))
	binary.LittleEndian.PutUint32(dst[offsetTimeHigh:], uint32(h.Timestamp>>32))
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("frame header too short: %d bytes", len(b))
	}

	low := binary.LittleEndian.Uint32(b[offsetTimeLow:])
	high := binary.LittleEndian.Uint32(b[offsetTimeHigh:])

	return Header{
		Codec:     binary.LittleEndian.Uint32(b[offsetCodec:]),
		IFrame:    binary.LittleEndian.Uint32(b[offsetIFrame:]) != 0,
		Timestamp: uint64(high)<<32 | uint64(low),
	}, nil
}

// FrameTimestamp decodes the transport timestamp: the trailing 4 bytes of
// the 8-byte field at offset 8, big-endian seconds. Frames too short to
// carry it report 0.
func FrameTimestamp(raw []byte) uint32 {
	if len(raw) < offsetTimestamp+8 {
		return 0
	}
	return binary.BigEndian.Uint32(raw[offsetTimestamp+4:])
}

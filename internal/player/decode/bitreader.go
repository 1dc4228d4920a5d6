package decode

import "fmt"

// bitReader reads MSB-first bit fields and Exp-Golomb codes from an RBSP.
// The first failure sticks: later reads return zero and err keeps the
// original cause.
type bitReader struct {
	data    []byte
	bytePos int
	bitPos  int
	err     error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) bit() uint32 {
	if br.err != nil {
		return 0
	}
	if br.bytePos >= len(br.data) {
		br.err = fmt.Errorf("end of data at byte %d", br.bytePos)
		return 0
	}

	b := (br.data[br.bytePos] >> (7 - br.bitPos)) & 1
	br.bitPos++
	if br.bitPos == 8 {
		br.bitPos = 0
		br.bytePos++
	}
	return uint32(b)
}

func (br *bitReader) flag() bool {
	return br.bit() == 1
}

func (br *bitReader) bits(n int) uint32 {
	if n < 0 || n > 32 {
		br.fail(fmt.Errorf("invalid bit count: %d", n))
		return 0
	}

	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | br.bit()
	}
	return v
}

// ue reads an unsigned Exp-Golomb value.
func (br *bitReader) ue() uint32 {
	zeros := 0
	for br.bit() == 0 {
		if br.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			br.fail(fmt.Errorf("too many leading zeros in ue(v)"))
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + br.bits(zeros)
}

// se reads a signed Exp-Golomb value.
func (br *bitReader) se() int32 {
	v := br.ue()
	if v%2 == 0 {
		return -int32(v / 2)
	}
	return int32((v + 1) / 2)
}

func (br *bitReader) fail(err error) {
	if br.err == nil {
		br.err = err
	}
}

// unescapeRBSP strips emulation prevention bytes: the 0x03 in
// 00 00 03 xx where xx <= 0x03.
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i, b := range data {
		if zeros >= 2 && b == 0x03 && (i+1 >= len(data) || data[i+1] <= 0x03) {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

package decode

// H.264 NAL unit types the muxer cares about.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSEI   = 6
	nalSPS   = 7
	nalPPS   = 8
	nalAUD   = 9
)

var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

func nalType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// SplitAnnexB returns the NAL units in an AnnexB byte stream, without their
// start codes. Both 3- and 4-byte start codes are accepted. Data before the
// first start code is ignored.
func SplitAnnexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1

	i := 0
	for i+2 < len(data) {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}

		codeLen := 0
		switch {
		case data[i+2] == 1:
			codeLen = 3
		case data[i+2] == 0 && i+3 < len(data) && data[i+3] == 1:
			codeLen = 4
		default:
			i++
			continue
		}

		if start >= 0 {
			if nal := trimTrailingZeros(data[start:i]); len(nal) > 0 {
				nals = append(nals, nal)
			}
		}
		i += codeLen
		start = i
	}

	if start >= 0 && start < len(data) {
		if nal := trimTrailingZeros(data[start:]); len(nal) > 0 {
			nals = append(nals, nal)
		}
	}
	return nals
}

func trimTrailingZeros(nal []byte) []byte {
	end := len(nal)
	for end > 0 && nal[end-1] == 0 {
		end--
	}
	return nal[:end]
}

// joinAnnexB concatenates NAL units with 4-byte start codes.
func joinAnnexB(nals [][]byte) []byte {
	size := 0
	for _, nal := range nals {
		size += len(startCode4) + len(nal)
	}

	out := make([]byte, 0, size)
	for _, nal := range nals {
		out = append(out, startCode4...)
		out = append(out, nal...)
	}
	return out
}

package decode

import (
	"fmt"
)

// SPS holds the sequence parameter set fields needed to describe a stream.
type SPS struct {
	ProfileIdc  uint8
	Constraints uint8
	LevelIdc    uint8
	Width       int
	Height      int
}

// Codec returns the RFC 6381 codec string, avc1.PPCCLL.
func (s SPS) Codec() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIdc, s.Constraints, s.LevelIdc)
}

// Pixels is the picture area used to size snapshot delays.
func (s SPS) Pixels() int {
	return s.Width * s.Height
}

func hasChromaInfo(profile uint32) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// ParseSPS decodes an SPS NAL unit, header byte included.
func ParseSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, fmt.Errorf("SPS too short: %d bytes", len(nal))
	}
	if nalType(nal) != nalSPS {
		return SPS{}, fmt.Errorf("not an SPS: nal type %d", nalType(nal))
	}

	br := newBitReader(unescapeRBSP(nal[1:]))

	profile := br.bits(8)
	constraints := br.bits(8)
	level := br.bits(8)
	br.ue() // seq_parameter_set_id

	chromaFormat := uint32(1)
	if hasChromaInfo(profile) {
		chromaFormat = br.ue()
		if chromaFormat == 3 {
			br.bit() // separate_colour_plane_flag
		}
		br.ue()  // bit_depth_luma_minus8
		br.ue()  // bit_depth_chroma_minus8
		br.bit() // qpprime_y_zero_transform_bypass_flag
		if br.flag() {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if br.flag() {
					skipScalingList(br, i)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() {
	case 0:
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.bit() // delta_pic_order_always_zero_flag
		br.se()  // offset_for_non_ref_pic
		br.se()  // offset_for_top_to_bottom_field
		n := br.ue()
		for i := uint32(0); i < n && br.err == nil; i++ {
			br.se()
		}
	}

	br.ue()  // max_num_ref_frames
	br.bit() // gaps_in_frame_num_value_allowed_flag
	widthMbs := br.ue() + 1
	heightMapUnits := br.ue() + 1
	frameMbsOnly := br.flag()
	if !frameMbsOnly {
		br.bit() // mb_adaptive_frame_field_flag
	}
	br.bit() // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if br.flag() {
		cropLeft, cropRight = br.ue(), br.ue()
		cropTop, cropBottom = br.ue(), br.ue()
	}

	if br.err != nil {
		return SPS{}, fmt.Errorf("failed to parse SPS: %w", br.err)
	}

	fieldFactor := uint32(2)
	if frameMbsOnly {
		fieldFactor = 1
	}

	subWidth, subHeight := uint32(2), uint32(2)
	switch chromaFormat {
	case 0, 3:
		subWidth, subHeight = 1, 1
	case 2:
		subHeight = 1
	}

	width := widthMbs*16 - (cropLeft+cropRight)*subWidth
	height := fieldFactor*heightMapUnits*16 - (cropTop+cropBottom)*subHeight*fieldFactor

	return SPS{
		ProfileIdc:  uint8(profile),
		Constraints: uint8(constraints),
		LevelIdc:    uint8(level),
		Width:       int(width),
		Height:      int(height),
	}, nil
}

func skipScalingList(br *bitReader, index int) {
	size := 16
	if index >= 6 {
		size = 64
	}

	last, next := int32(8), int32(8)
	for i := 0; i < size && br.err == nil; i++ {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// Package media holds the value types shared by the player pipeline stages.
package media

import "time"

// Segment is one independently appendable chunk produced by the decode
// worker.
type Segment struct {
	Data     []byte
	Codec    string // RFC 6381 codec string, e.g. avc1.42E01E
	Duration time.Duration
}

// TimeRange is one contiguous buffered interval on the media timeline.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

func (r TimeRange) Contains(t time.Duration) bool {
	return t >= r.Start && t <= r.End
}

func (r TimeRange) Len() time.Duration {
	return r.End - r.Start
}

// Artifact is an exported file (capture or snapshot).
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

const (
	ContentTypeH264 = "video/h264"
	ContentTypeJPEG = "image/jpeg"
)

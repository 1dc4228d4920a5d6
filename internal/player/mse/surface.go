package mse

import (
	"errors"
	"time"

	"github.com/zsiec/camview/internal/player/media"
)

var (
	// ErrCodecUnsupported is returned by Attach when the surface cannot
	// play the codec.
	ErrCodecUnsupported = errors.New("codec not supported")
	// ErrSurfaceBusy is returned by Attach when another controller is
	// bound to the surface.
	ErrSurfaceBusy = errors.New("surface already attached")
	// ErrClosed is returned by SourceBuffer methods after Detach.
	ErrClosed = errors.New("source buffer detached")
)

// Placement selects how appended segments are positioned on the timeline.
type Placement int

const (
	// PlacementSequence places each append right after the previous one,
	// ignoring timestamps inside the data.
	PlacementSequence Placement = iota
	PlacementSegments
)

// Surface is the playback surface a controller binds to. Methods other
// than Attach's handler callbacks are called from the control thread.
type Surface interface {
	Attach(codec string, placement Placement, h SurfaceHandler) (SourceBuffer, error)
	Detach()

	CurrentTime() time.Duration
	Seek(t time.Duration)
	Play() error
	Pause()
	Paused() bool
}

// SourceBuffer accepts appended media for one attachment. Append and
// Remove are asynchronous: Updating stays true until the handler's
// UpdateEnd is called.
type SourceBuffer interface {
	Append(data []byte, duration time.Duration) error
	Remove(start, end time.Duration) error
	Updating() bool
	Buffered() []media.TimeRange
}

// SurfaceHandler receives completion and failure notifications. It may be
// called from any goroutine.
type SurfaceHandler interface {
	UpdateEnd()
	MediaError(err error)
}

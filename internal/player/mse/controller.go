// Package mse binds decoded segments to a playback surface. The Controller
// owns the surface binding state machine, drains queued segments one blob
// at a time, keeps live playback near the buffered edge, evicts played-out
// media and rebuilds the binding after media failures.
//
// All Controller methods must be called on the control thread of the
// scheduler it was created with.
package mse

import (
	"errors"
	"time"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player/eventloop"
	"github.com/zsiec/camview/internal/player/media"
)

// Config holds the buffer heuristics' thresholds.
type Config struct {
	// Gap to the buffered end that restores the skip allowance.
	CatchUpReset time.Duration
	// Gap that triggers a catch-up seek.
	CatchUpGap time.Duration
	// Distance behind the buffered end a catch-up seek lands at.
	CatchUpBackoff time.Duration
	SkipCount      int

	EvictAfter  time.Duration
	EvictKeep   time.Duration
	ReinitDelay time.Duration

	// Consecutive recoveries allowed before giving up, 0 = unbounded.
	MaxRecoveries int
}

func DefaultConfig() Config {
	return Config{
		CatchUpReset:   time.Second,
		CatchUpGap:     500 * time.Millisecond,
		CatchUpBackoff: 400 * time.Millisecond,
		SkipCount:      5,
		EvictAfter:     20 * time.Second,
		EvictKeep:      10 * time.Second,
		ReinitDelay:    300 * time.Millisecond,
		MaxRecoveries:  5,
	}
}

type EventType int

const (
	// EventStartPlay fires when an append resumes a paused surface.
	EventStartPlay EventType = iota
	EventMediaError
	EventRecovered
	EventRecoveryExhausted
)

func (t EventType) String() string {
	switch t {
	case EventStartPlay:
		return "startPlay"
	case EventMediaError:
		return "mediaError"
	case EventRecovered:
		return "recovered"
	case EventRecoveryExhausted:
		return "recoveryExhausted"
	}
	return "unknown"
}

type Event struct {
	Type    EventType
	Codec   string
	Err     error
	Attempt int
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	State         State         `json:"state"`
	Codec         string        `json:"codec"`
	Queued        int           `json:"queued"`
	QueuedBytes   int           `json:"queued_bytes"`
	RemoveOffset  time.Duration `json:"remove_offset"`
	SegmentIndex  int           `json:"segment_index"`
	SkipRemaining int           `json:"skip_remaining"`
	Recoveries    int           `json:"recoveries"`

	Appends       uint64 `json:"appends"`
	AppendedBytes uint64 `json:"appended_bytes"`
	CatchUpSeeks  uint64 `json:"catch_up_seeks"`
	Evictions     uint64 `json:"evictions"`
	BoundaryJumps uint64 `json:"boundary_jumps"`
}

type Controller struct {
	cfg     Config
	sched   eventloop.Scheduler
	surface Surface
	onEvent func(Event)
	logger  logger.Logger
	session string

	state  State
	closed bool
	codec  string
	buf    SourceBuffer
	gen    uint64

	frames       []media.Segment
	appendDone   bool
	removeOffset time.Duration
	segmentIndex int
	skip         int
	playback     bool
	hidden       bool
	hold         bool

	recoveries int
	reinit     eventloop.Timer

	appends       uint64
	appendedBytes uint64
	catchUpSeeks  uint64
	evictions     uint64
	boundaryJumps uint64
}

type Option func(*Controller)

func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEvents sets the callback for controller events. It runs on the
// control thread.
func WithEvents(fn func(Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithSession tags the controller's log entries.
func WithSession(id string) Option {
	return func(c *Controller) { c.session = id }
}

func NewController(s eventloop.Scheduler, surface Surface, opts ...Option) *Controller {
	c := &Controller{
		cfg:        DefaultConfig(),
		sched:      s,
		surface:    surface,
		onEvent:    func(Event) {},
		logger:     logger.NewNullLogger(),
		state:      Idle,
		appendDone: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.skip = c.cfg.SkipCount
	c.logger = logger.WithComponent(logger.OrNull(c.logger), "mse")
	if c.session != "" {
		c.logger = logger.WithSession(c.logger, c.session)
	}
	return c
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Stats() Stats {
	st := Stats{
		State:         c.state,
		Codec:         c.codec,
		Queued:        len(c.frames),
		RemoveOffset:  c.removeOffset,
		SegmentIndex:  c.segmentIndex,
		SkipRemaining: c.skip,
		Recoveries:    c.recoveries,
		Appends:       c.appends,
		AppendedBytes: c.appendedBytes,
		CatchUpSeeks:  c.catchUpSeeks,
		Evictions:     c.evictions,
		BoundaryJumps: c.boundaryJumps,
	}
	for _, f := range c.frames {
		st.QueuedBytes += len(f.Data)
	}
	return st
}

// SetPlayback disables live catch-up and boundary jumps while seeking or
// scrubbing recorded media. Eviction of media behind the playhead stays on
// in both modes so a long playback session cannot grow the buffer without
// bound.
func (c *Controller) SetPlayback(playback bool) {
	c.playback = playback
}

// SetHidden suppresses catch-up seeks while nobody is watching by
// restoring the skip allowance on every push.
func (c *Controller) SetHidden(hidden bool) {
	c.hidden = hidden
}

// Hold stops pushes from triggering appends, e.g. while a snapshot is
// being taken. Releasing the hold drains the queue.
func (c *Controller) Hold(hold bool) {
	c.hold = hold
	if !hold {
		c.Update()
	}
}

// Push queues a decoded segment. The first segment binds the surface with
// its codec.
func (c *Controller) Push(seg media.Segment) {
	if c.closed {
		return
	}

	if c.state == Idle {
		c.frames = nil
		if err := c.init(seg.Codec); err != nil && !errors.Is(err, ErrCodecUnsupported) {
			c.scheduleRecovery()
		}
	}

	if c.hidden {
		c.skip = c.cfg.SkipCount
	}

	c.frames = append(c.frames, seg)
	metrics.SetBufferQueueDepth(len(c.frames))

	if !c.hold {
		c.Update()
	}
}

// Update appends every queued segment as one blob, if the source buffer
// is idle and the previous append has completed.
func (c *Controller) Update() {
	if c.buf == nil || !c.appendDone || c.buf.Updating() {
		return
	}
	if len(c.frames) == 0 {
		return
	}

	size := 0
	var duration time.Duration
	for _, f := range c.frames {
		size += len(f.Data)
		duration += f.Duration
	}
	blob := make([]byte, 0, size)
	for _, f := range c.frames {
		blob = append(blob, f.Data...)
	}
	pending := c.frames
	c.frames = nil
	metrics.SetBufferQueueDepth(0)

	if err := c.buf.Append(blob, duration); err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"updating": c.buf.Updating(),
			"segments": len(pending),
			"ranges":   len(c.buf.Buffered()),
		}).Error("Append failed")
		metrics.IncrementAppendError()
		// The rejected segments go back to the head of the queue and are
		// appended again once the surface is rebound.
		c.frames = pending
		metrics.SetBufferQueueDepth(len(c.frames))
		c.fail(err)
		return
	}

	c.appendDone = false
	c.appends++
	c.appendedBytes += uint64(size)
	metrics.RecordAppend(size)

	if c.surface.Paused() {
		if err := c.surface.Play(); err != nil {
			c.logger.WithError(err).Warn("Failed to resume playback")
		}
		c.emit(Event{Type: EventStartPlay, Codec: c.codec})
	}
}

// ClearBuffer drops queued segments and buffered media without unbinding
// the surface.
func (c *Controller) ClearBuffer() {
	c.frames = nil
	metrics.SetBufferQueueDepth(0)
	c.removeOffset = 0
	c.segmentIndex = 0
	c.skip = c.cfg.SkipCount

	if c.buf == nil || c.buf.Updating() {
		return
	}
	ranges := c.buf.Buffered()
	if len(ranges) == 0 {
		return
	}
	if err := c.buf.Remove(0, ranges[len(ranges)-1].End); err != nil {
		c.logger.WithError(err).Warn("Failed to clear buffered media")
	}
}

// Close unbinds the surface for good. Safe to call more than once.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if c.reinit != nil {
		c.reinit.Stop()
		c.reinit = nil
	}
	c.detach()
	c.frames = nil
	c.codec = ""
	c.state = Destroyed
	metrics.SetPlaybackState(int(c.state))
	metrics.SetBufferQueueDepth(0)
}

func (c *Controller) init(codec string) error {
	c.transition(Waiting)

	if codec == "" {
		c.logger.Error("Cannot bind surface without a codec")
		c.transition(Error)
		return ErrCodecUnsupported
	}

	c.gen++
	buf, err := c.surface.Attach(codec, PlacementSequence, &handler{c: c, gen: c.gen})
	if err != nil {
		c.logger.WithError(err).WithField("codec", codec).Error("Failed to bind surface")
		c.codec = codec
		c.transition(Error)
		return err
	}

	c.codec = codec
	c.buf = buf
	c.appendDone = true
	c.segmentIndex = 0
	c.removeOffset = 0
	c.skip = c.cfg.SkipCount
	c.surface.Pause()

	c.transition(Normal)
	c.logger.WithField("codec", codec).Info("Surface bound")
	return nil
}

func (c *Controller) detach() {
	if c.buf != nil {
		c.surface.Detach()
		c.buf = nil
	}
	c.gen++
	c.appendDone = true
	c.removeOffset = 0
	c.segmentIndex = 0
}

// fail tears down the binding after a media failure and schedules a
// rebuild with the same codec. Queued segments are kept.
func (c *Controller) fail(err error) {
	if c.closed || c.state == Destroyed {
		return
	}

	c.transition(Destroyed)
	c.emit(Event{Type: EventMediaError, Codec: c.codec, Err: err})
	c.detach()
	c.scheduleRecovery()
}

func (c *Controller) scheduleRecovery() {
	if c.codec == "" || c.reinit != nil {
		return
	}

	c.recoveries++
	if c.cfg.MaxRecoveries > 0 && c.recoveries > c.cfg.MaxRecoveries {
		c.logger.WithField("attempts", c.recoveries-1).Error("Giving up on media recovery")
		metrics.IncrementRecovery("exhausted")
		if c.state != Error {
			c.transition(Error)
		}
		c.emit(Event{Type: EventRecoveryExhausted, Codec: c.codec, Attempt: c.recoveries - 1})
		return
	}

	attempt := c.recoveries
	c.reinit = c.sched.After(c.cfg.ReinitDelay, func() {
		c.reinit = nil
		c.recover(attempt)
	})
}

func (c *Controller) recover(attempt int) {
	if c.closed {
		return
	}

	if err := c.init(c.codec); err != nil {
		metrics.IncrementRecovery("failed")
		c.scheduleRecovery()
		return
	}

	metrics.IncrementRecovery("recovered")
	c.logger.WithFields(map[string]interface{}{
		"codec":   c.codec,
		"attempt": attempt,
		"queued":  len(c.frames),
	}).Info("Media recovered")
	c.emit(Event{Type: EventRecovered, Codec: c.codec, Attempt: attempt})
	c.Update()
}

func (c *Controller) onMediaError(err error) {
	c.logger.WithError(err).Error("Surface reported media error")
	c.fail(err)
}

func (c *Controller) onUpdateEnd() {
	defer func() {
		c.appendDone = true
		if !c.hold {
			c.Update()
		}
	}()

	if c.buf == nil {
		return
	}
	ranges := c.buf.Buffered()
	if len(ranges) == 0 {
		return
	}
	c.recoveries = 0

	if c.segmentIndex >= len(ranges) {
		c.segmentIndex = len(ranges) - 1
	}
	c.crossBoundary(ranges)

	ranges = c.buf.Buffered()
	if len(ranges) == 0 {
		return
	}
	if c.segmentIndex >= len(ranges) {
		c.segmentIndex = len(ranges) - 1
	}
	end := ranges[c.segmentIndex].End
	cur := c.surface.CurrentTime()

	if !c.playback {
		c.catchUp(end, cur)
	}

	if !c.buf.Updating() && cur-c.removeOffset >= c.cfg.EvictAfter {
		watermark := cur - c.cfg.EvictKeep
		if err := c.buf.Remove(c.removeOffset, watermark); err != nil {
			c.logger.WithError(err).Warn("Eviction failed")
			return
		}
		c.logger.WithFields(map[string]interface{}{
			"from": c.removeOffset.String(),
			"to":   watermark.String(),
		}).Debug("Evicted played-out media")
		c.removeOffset = watermark
		c.evictions++
		metrics.IncrementEviction()
	}
}

// catchUp seeks toward the buffered end when live playback falls behind.
// At most SkipCount seeks happen before the gap must again reach
// CatchUpReset.
func (c *Controller) catchUp(end, cur time.Duration) {
	gap := end - cur
	if gap >= c.cfg.CatchUpReset && c.skip == 0 {
		c.skip = c.cfg.SkipCount
	}
	if gap >= c.cfg.CatchUpGap && c.skip > 0 {
		c.surface.Seek(end - c.cfg.CatchUpBackoff)
		c.skip--
		c.catchUpSeeks++
		metrics.IncrementCatchUpSeek()
	}
}

// crossBoundary moves playback into the next buffered range after a
// discontinuity and drops everything before it.
func (c *Controller) crossBoundary(ranges []media.TimeRange) {
	if c.playback || c.segmentIndex >= len(ranges)-1 {
		return
	}

	current := ranges[c.segmentIndex]
	next := ranges[c.segmentIndex+1]
	c.logger.WithFields(map[string]interface{}{
		"position":   c.surface.CurrentTime().String(),
		"current":    current.End.String(),
		"next_start": next.Start.String(),
	}).Info("Jumping to next buffered range")

	c.segmentIndex++
	c.surface.Seek(next.Start)
	c.removeOffset = 0
	if err := c.buf.Remove(0, current.End); err != nil {
		c.logger.WithError(err).Warn("Failed to drop previous range")
	}
	if err := c.surface.Play(); err != nil {
		c.logger.WithError(err).Warn("Failed to resume playback")
	}
	c.skip = c.cfg.SkipCount
	c.boundaryJumps++
	metrics.IncrementBoundaryJump()
}

func (c *Controller) transition(to State) {
	if !CanTransition(c.state, to) {
		c.logger.WithFields(map[string]interface{}{
			"from": c.state.String(),
			"to":   to.String(),
		}).Warn("Illegal state transition")
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"from": c.state.String(),
		"to":   to.String(),
	}).Debug("State transition")
	c.state = to
	metrics.SetPlaybackState(int(to))
}

func (c *Controller) emit(e Event) {
	c.onEvent(e)
}

// handler forwards surface callbacks to the control thread, dropping those
// from a binding that has since been torn down.
type handler struct {
	c   *Controller
	gen uint64
}

func (h *handler) UpdateEnd() {
	h.c.sched.Post(func() {
		if h.gen == h.c.gen && !h.c.closed {
			h.c.onUpdateEnd()
		}
	})
}

func (h *handler) MediaError(err error) {
	h.c.sched.Post(func() {
		if h.gen == h.c.gen && !h.c.closed {
			h.c.onMediaError(err)
		}
	})
}

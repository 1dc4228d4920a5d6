// Package player is the streaming client's orchestrator. A Player wires an
// ingestion channel, the frame transformer, a decode worker and a buffer
// controller together, and exposes the start/pause/restart/stop/destroy
// lifecycle plus capture and snapshot export.
//
// Player state lives on a single control thread (an eventloop.Scheduler).
// Public methods may be called from any goroutine; they hop onto the
// control thread and wait for the result.
package player

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player/capture"
	"github.com/zsiec/camview/internal/player/decode"
	"github.com/zsiec/camview/internal/player/eventloop"
	"github.com/zsiec/camview/internal/player/ingest"
	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/mse"
	"github.com/zsiec/camview/internal/player/transform"
)

var (
	ErrRetriesExhausted = errors.New("transport retries exhausted")
	ErrSnapshotInFlight = errors.New("snapshot already in progress")
	ErrNotStarted       = errors.New("player not started")
	ErrDestroyed        = errors.New("player destroyed")
	ErrNoGrabber        = errors.New("surface cannot render snapshots")
)

// Decoder is the decode/mux stage as seen by the player. decode.Worker
// implements it.
type Decoder interface {
	Feed(f transform.Frame) bool
	Reset()
	Stop()
	Terminate()
	Output() <-chan decode.Output
}

// ArtifactStore persists exported captures and snapshots.
type ArtifactStore interface {
	Save(ctx context.Context, a media.Artifact) error
}

type Player struct {
	id         string
	cfg        Config
	sched      eventloop.Scheduler
	surface    mse.Surface
	observer   Observer
	store      ArtifactStore
	logger     logger.Logger
	frameLog   *logger.SampledLogger
	now        func() time.Time
	newChannel func() ingest.Channel
	newDecoder func() Decoder

	// Everything below is owned by the control thread.
	channel     ingest.Channel
	channelGen  uint64
	decoder     Decoder
	decoderGen  uint64
	ctrl        *mse.Controller
	transformer *transform.Transformer
	capture     *capture.Session

	url       string
	epoch     uint64 // bumped by every caller-driven state change
	started   bool
	connected bool
	destroyed bool
	retries   int
	hidden    bool
	mode      transform.Mode
	stream    decode.StreamInfo

	snapshotInFlight bool

	packetCount      int
	packetsPerSecond int
	lastPacketSec    int64
}

type Option func(*Player)

func WithConfig(cfg Config) Option {
	return func(p *Player) { p.cfg = cfg }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Player) { p.logger = l }
}

func WithObserver(o Observer) Option {
	return func(p *Player) { p.observer = o }
}

func WithArtifactStore(s ArtifactStore) Option {
	return func(p *Player) { p.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Player) { p.now = now }
}

func WithSessionID(id string) Option {
	return func(p *Player) { p.id = id }
}

// WithChannelFactory replaces the WebSocket ingestion channel.
func WithChannelFactory(fn func() ingest.Channel) Option {
	return func(p *Player) { p.newChannel = fn }
}

// WithDecoderFactory replaces the AnnexB decode worker.
func WithDecoderFactory(fn func() Decoder) Option {
	return func(p *Player) { p.newDecoder = fn }
}

// New creates a player bound to surface. It does nothing until Start.
func New(sched eventloop.Scheduler, surface mse.Surface, opts ...Option) *Player {
	p := &Player{
		id:       uuid.New().String(),
		cfg:      DefaultConfig(),
		sched:    sched,
		surface:  surface,
		observer: ObserverFunc(func(Event) {}),
		logger:   logger.NewNullLogger(),
		now:      time.Now,
		capture:  capture.New(),
		mode:     transform.LiveMode,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = logger.WithSession(logger.WithComponent(logger.OrNull(p.logger), "player"), p.id)
	p.frameLog = logger.NewFrameLogger(p.logger)
	p.retries = p.cfg.TransportRetries

	if p.newChannel == nil {
		log, cfg := p.logger, p.cfg.Ingest
		p.newChannel = func() ingest.Channel {
			return ingest.NewWebSocketChannel(cfg, ingest.WithLogger(log))
		}
	}
	if p.newDecoder == nil {
		queue := p.cfg.DecodeQueue
		p.newDecoder = func() Decoder {
			return decode.NewWorker(decode.NewAnnexBMuxer(), queue)
		}
	}

	p.transformer = transform.New(
		transform.WithClock(p.now),
		transform.WithChannel(p.cfg.ChannelID),
		transform.WithCapture(p.capture, p.onCaptureExport),
	)
	return p
}

func (p *Player) ID() string {
	return p.id
}

func (p *Player) call(ctx context.Context, fn func()) error {
	return eventloop.Call(ctx, p.sched, fn)
}

// Start connects to url. It is a no-op while already started. When a
// previous connection is still up it is closed first and Start waits the
// reconnect settle delay before dialing again. Starting again after the
// retry budget ran out restores it.
func (p *Player) Start(ctx context.Context, url string) error {
	return p.start(ctx, url, nil)
}

// start is shared by Start and the automatic reconnect. A reconnect passes
// the epoch it was scheduled in and gives up once a caller has started,
// restarted, paused, stopped or destroyed the player since.
func (p *Player) start(ctx context.Context, url string, retryEpoch *uint64) error {
	var (
		err    error
		settle bool
		done   bool
	)
	retry := retryEpoch != nil
	cancelled := func() bool { return retry && *retryEpoch != p.epoch }

	if cerr := p.call(ctx, func() {
		if p.destroyed {
			err = ErrDestroyed
			return
		}
		if cancelled() {
			done = true
			return
		}
		if !retry {
			p.epoch++
		}
		p.url = url
		if p.started {
			done = true
			return
		}
		if !retry && p.retries <= 0 {
			p.retries = p.cfg.TransportRetries
		}
		if p.connected {
			p.disconnect()
			settle = true
		}
	}); cerr != nil {
		return cerr
	}
	if err != nil || done {
		return err
	}

	if settle {
		if err := p.sleep(ctx, p.cfg.ReconnectSettle); err != nil {
			return err
		}
	}

	if cerr := p.call(ctx, func() {
		if p.destroyed {
			err = ErrDestroyed
			return
		}
		if p.started || cancelled() {
			return
		}
		p.started = true
		p.initWorkers()
		p.connect(p.url)
		p.notify(Event{Type: EventWorkInProgress, Working: true})
	}); cerr != nil {
		return cerr
	}
	return err
}

// Pause disconnects the channel and clears buffered media but keeps the
// surface binding. The channel worker is terminated shortly after.
func (p *Player) Pause() error {
	return p.call(context.Background(), func() {
		p.epoch++
		if p.channel != nil {
			p.disconnect()
			ch := p.channel
			p.sched.After(p.cfg.PauseTerminate, func() {
				if p.channel == ch && !p.connected {
					ch.Terminate()
					p.channel = nil
					p.channelGen++
				}
			})
		}
		if p.ctrl != nil {
			p.ctrl.ClearBuffer()
		}
		if p.surface != nil && !p.surface.Paused() {
			p.surface.Pause()
		}
		p.connected = false
		p.started = false
	})
}

// Restart reconnects to the last URL, recreating only the workers that are
// missing, and resumes feeding the surface.
func (p *Player) Restart(ctx context.Context) error {
	var (
		err    error
		settle bool
	)
	if cerr := p.call(ctx, func() {
		p.epoch++
		switch {
		case p.destroyed:
			err = ErrDestroyed
		case p.url == "":
			err = ErrNotStarted
		case p.connected && p.channel != nil:
			p.disconnect()
			settle = true
		}
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	if settle {
		if err := p.sleep(ctx, p.cfg.ReconnectSettle); err != nil {
			return err
		}
	}

	if cerr := p.call(ctx, func() {
		if p.destroyed {
			err = ErrDestroyed
			return
		}
		p.initWorkers()
		if p.ctrl != nil {
			p.ctrl.ClearBuffer()
		}
		p.connect(p.url)
		p.decoder.Reset()
		p.notify(Event{Type: EventWorkInProgress, Working: true})
		p.started = true
	}); cerr != nil {
		return cerr
	}
	return err
}

// Stop ends playback: counters and playback mode are reset, the decoder
// and buffer controller are torn down and the channel is disconnected.
// The surface and the channel worker are kept for the next Start.
func (p *Player) Stop() error {
	return p.call(context.Background(), func() {
		p.epoch++
		p.stopPlay()
		if p.channel != nil {
			p.disconnect()
		}
		p.started = false
	})
}

// Destroy tears everything down and releases the surface. Safe to call
// more than once.
func (p *Player) Destroy() {
	_ = p.call(context.Background(), func() {
		p.epoch++
		p.stopPlay()
		if p.channel != nil {
			p.disconnect()
			p.channel.Terminate()
			p.channel = nil
			p.channelGen++
		}
		p.surface = nil
		p.started = false
		p.connected = false
		p.url = ""
		if !p.destroyed {
			p.logger.Info("Player destroyed")
		}
		p.destroyed = true
	})
}

// SetPlayMode switches between live preview and recorded playback.
func (p *Player) SetPlayMode(playback bool) error {
	return p.call(context.Background(), func() {
		p.mode.Playback = playback
		p.transformer.SetMode(p.mode)
		if p.ctrl != nil {
			p.ctrl.SetPlayback(playback)
		}
	})
}

// SetSpeed sets the playback rate and direction used for frame durations.
func (p *Player) SetSpeed(speed float64, reverse bool) error {
	if speed <= 0 {
		speed = 1
	}
	return p.call(context.Background(), func() {
		p.mode.Speed = speed
		p.mode.Reverse = reverse
		p.transformer.SetMode(p.mode)
	})
}

// SetHidden tells the buffer controller nobody is watching.
func (p *Player) SetHidden(hidden bool) error {
	return p.call(context.Background(), func() {
		p.hidden = hidden
		if p.ctrl != nil {
			p.ctrl.SetHidden(hidden)
		}
	})
}

func (p *Player) stopPlay() {
	p.transformer.Reset()
	p.mode = transform.LiveMode
	p.snapshotInFlight = false
	p.packetCount = 0
	p.packetsPerSecond = 0
	p.lastPacketSec = 0
	p.stream = decode.StreamInfo{}
	metrics.SetPacketsPerSecond(0)

	if p.ctrl != nil {
		p.ctrl.Close()
		p.ctrl = nil
	}
	if p.decoder != nil {
		p.decoder.Stop()
		p.decoder.Terminate()
		p.decoder = nil
		p.decoderGen++
	}
}

// initWorkers creates whichever of the channel, decoder and controller is
// missing.
func (p *Player) initWorkers() {
	if p.ctrl == nil && p.surface != nil {
		p.ctrl = mse.NewController(p.sched, p.surface,
			mse.WithConfig(p.cfg.Buffer),
			mse.WithLogger(p.logger),
			mse.WithEvents(p.onMediaEvent),
		)
		p.ctrl.SetPlayback(p.mode.Playback)
		p.ctrl.SetHidden(p.hidden)
	}

	if p.channel != nil && p.decoder != nil {
		return
	}
	p.notify(Event{Type: EventWorkInProgress, Working: false})

	if p.channel == nil {
		p.channelGen++
		p.channel = p.newChannel()
		go p.pumpChannel(p.channelGen, p.channel)
	}
	if p.decoder == nil {
		p.decoderGen++
		p.decoder = p.newDecoder()
		go p.pumpDecoder(p.decoderGen, p.decoder)
	}
}

func (p *Player) connect(url string) {
	p.connected = true
	p.channel.Connect(url)
	p.logger.WithField("url", url).Info("Connecting")
}

func (p *Player) disconnect() {
	p.connected = false
	p.channel.Disconnect()
}

// pumpChannel forwards channel messages to the control thread until the
// channel is terminated. Messages from a replaced channel are dropped.
func (p *Player) pumpChannel(gen uint64, ch ingest.Channel) {
	for m := range ch.Messages() {
		m := m
		p.sched.Post(func() {
			if gen == p.channelGen {
				p.onChannelMessage(m)
			}
		})
	}
}

func (p *Player) pumpDecoder(gen uint64, d Decoder) {
	for out := range d.Output() {
		out := out
		p.sched.Post(func() {
			if gen == p.decoderGen {
				p.onDecoderOutput(out)
			}
		})
	}
}

func (p *Player) onChannelMessage(m ingest.Message) {
	switch msg := m.(type) {
	case ingest.Opened:
		p.retries = p.cfg.TransportRetries
		p.notify(Event{Type: EventOpened})

	case ingest.Closed:
		p.logger.WithFields(map[string]interface{}{
			"code":   msg.Code,
			"reason": msg.Reason,
		}).Info("Channel closed")
		p.notify(Event{Type: EventClosed, Code: msg.Code, Detail: msg.Reason})

	case ingest.Failed:
		// A channel already disconnected by Pause or Stop may still report
		// its failure before it is terminated.
		if !p.started && !p.connected {
			return
		}
		p.onTransportError(msg.Err)

	case ingest.VideoData:
		p.onVideoData(msg.Payload)
	}
}

// onTransportError applies the retry policy: reconnect while the budget
// lasts, then disconnect and surface ErrRetriesExhausted.
func (p *Player) onTransportError(err error) {
	metrics.IncrementTransportError()
	p.notify(Event{Type: EventError, Detail: errString(err), Err: err})

	if p.retries <= 0 {
		return
	}
	p.retries--

	if p.retries > 0 {
		p.logger.WithError(err).WithField("retries_left", p.retries).Warn("Transport error, reconnecting")
		metrics.IncrementReconnects("player")
		p.started = false
		url, epoch := p.url, p.epoch
		go func() {
			if err := p.start(context.Background(), url, &epoch); err != nil && !errors.Is(err, ErrDestroyed) {
				p.logger.WithError(err).Error("Reconnect failed")
			}
		}()
		return
	}

	p.logger.WithError(err).Error("Transport retries exhausted")
	if p.channel != nil {
		p.disconnect()
	}
	p.started = false
	p.notify(Event{Type: EventError, Detail: ErrRetriesExhausted.Error(), Err: ErrRetriesExhausted})
}

func (p *Player) onVideoData(payload []byte) {
	nowSec := p.now().Unix()
	if p.lastPacketSec != nowSec {
		if p.lastPacketSec > 0 {
			p.packetsPerSecond = p.packetCount
			metrics.SetPacketsPerSecond(p.packetsPerSecond)
		}
		p.lastPacketSec = nowSec
		p.packetCount = 0
	}
	p.packetCount++
	metrics.RecordFrame(len(payload))

	frame, ok := p.transformer.Transform(payload)
	if !ok {
		metrics.IncrementFrameRejected("empty")
		return
	}
	if p.decoder == nil {
		return
	}
	if !p.decoder.Feed(frame) {
		metrics.IncrementFrameRejected("decoder_busy")
		p.frameLog.Sample(logrus.WarnLevel, "frame_drop", "Decoder queue full, dropping frame",
			map[string]interface{}{"frame_index": frame.Index})
	}
}

func (p *Player) onDecoderOutput(out decode.Output) {
	switch o := out.(type) {
	case decode.SegmentReady:
		if p.ctrl != nil {
			p.ctrl.Push(o.Segment)
		}

	case decode.StreamChanged:
		p.stream = o.Info
		info := o.Info
		p.logger.WithFields(map[string]interface{}{
			"codec":  info.Codec,
			"width":  info.Width,
			"height": info.Height,
		}).Info("Stream parameters changed")
		p.notify(Event{Type: EventStreamChanged, Stream: &info})

	case decode.DecodeFailed:
		p.frameLog.Sample(logrus.WarnLevel, "decode", "Failed to mux frame",
			map[string]interface{}{"frame_index": o.Index, "error": errString(o.Err)})
	}
}

func (p *Player) onMediaEvent(e mse.Event) {
	ev := Event{Detail: e.Codec, Err: e.Err}
	switch e.Type {
	case mse.EventStartPlay:
		ev.Type = EventStartPlay
	case mse.EventMediaError:
		ev.Type = EventMediaError
		ev.Detail = errString(e.Err)
	case mse.EventRecovered:
		ev.Type = EventRecovered
		ev.Code = e.Attempt
	case mse.EventRecoveryExhausted:
		ev.Type = EventRecoveryExhausted
		ev.Code = e.Attempt
	default:
		return
	}
	p.notify(ev)
}

func (p *Player) notify(e Event) {
	e.Session = p.id
	if e.Time.IsZero() {
		e.Time = p.now()
	}
	p.observer.OnEvent(e)
}

func (p *Player) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

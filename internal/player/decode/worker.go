// Package decode runs the decode/mux stage on its own goroutine. Frames go
// in through a bounded queue; segments and failures come out as Output
// values in input order.
package decode

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player/media"
	"github.com/zsiec/camview/internal/player/transform"
)

// Output is one message from the worker: SegmentReady, StreamChanged or
// DecodeFailed.
type Output interface {
	isOutput()
}

type SegmentReady struct {
	Segment media.Segment
}

// StreamChanged reports new stream parameters.
type StreamChanged struct {
	Info StreamInfo
}

type DecodeFailed struct {
	Err   error
	Index uint64 // frame index that failed
}

func (SegmentReady) isOutput()  {}
func (StreamChanged) isOutput() {}
func (DecodeFailed) isOutput()  {}

type cmdKind int

const (
	cmdFrame cmdKind = iota
	cmdReset
	cmdStop
)

type command struct {
	kind  cmdKind
	frame transform.Frame
}

// Worker owns a Muxer and feeds it from a bounded queue.
type Worker struct {
	muxer Muxer
	in    chan command
	out   chan Output
	quit  chan struct{}
	done  chan struct{}

	quitOnce sync.Once
	dropped  atomic.Uint64
	resync   atomic.Bool
}

// NewWorker starts a worker. queueSize bounds both the input and output
// queues.
func NewWorker(m Muxer, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}

	w := &Worker{
		muxer: m,
		in:    make(chan command, queueSize),
		out:   make(chan Output, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Feed queues f without blocking. When the queue is full the frame is
// dropped, Feed reports false, and the muxer resynchronises on the next
// key frame.
func (w *Worker) Feed(f transform.Frame) bool {
	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.in <- command{kind: cmdFrame, frame: f}:
		return true
	default:
		w.dropped.Add(1)
		w.resync.Store(true)
		return false
	}
}

// Reset asks the muxer to restart at the next key frame, after frames
// already queued.
func (w *Worker) Reset() {
	w.send(command{kind: cmdReset})
}

// Stop closes the muxer after the queued frames have been processed and
// ends the worker.
func (w *Worker) Stop() {
	if !w.send(command{kind: cmdStop}) {
		w.Terminate()
	}
}

// Terminate ends the worker immediately, discarding queued frames.
func (w *Worker) Terminate() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Output is closed once the worker has exited.
func (w *Worker) Output() <-chan Output {
	return w.out
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Dropped counts frames refused because the queue was full.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Worker) send(c command) bool {
	select {
	case <-w.quit:
		return false
	default:
	}

	select {
	case w.in <- c:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	metrics.IncrementGoroutineCreated("decode")
	defer metrics.IncrementGoroutineDestroyed("decode")
	defer close(w.done)
	defer close(w.out)
	defer w.muxer.Close()
	defer w.Terminate()

	var info StreamInfo
	for {
		select {
		case <-w.quit:
			return
		case c := <-w.in:
			switch c.kind {
			case cmdStop:
				return
			case cmdReset:
				w.muxer.Reset()
				continue
			}

			if w.resync.Swap(false) {
				w.muxer.Reset()
			}

			segments, err := w.muxer.Mux(c.frame)
			if err != nil {
				metrics.IncrementDecodeFailures()
				if !w.emit(DecodeFailed{Err: err, Index: c.frame.Index}) {
					return
				}
				continue
			}

			if ip, ok := w.muxer.(interface{ Info() StreamInfo }); ok {
				if cur := ip.Info(); cur != info {
					info = cur
					if !w.emit(StreamChanged{Info: cur}) {
						return
					}
				}
			}

			for _, seg := range segments {
				metrics.IncrementDecodeSegments()
				if !w.emit(SegmentReady{Segment: seg}) {
					return
				}
			}
		}
	}
}

func (w *Worker) emit(o Output) bool {
	select {
	case w.out <- o:
		return true
	case <-w.quit:
		return false
	}
}

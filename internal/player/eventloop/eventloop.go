// Package eventloop provides the single cooperative control thread the
// player and buffer controller run on. Closures posted to a Loop run one at
// a time in posting order; Post never blocks.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/camview/internal/metrics"
)

var ErrClosed = errors.New("event loop closed")

// Scheduler is the control-thread contract used by the player components.
type Scheduler interface {
	// Post queues fn to run on the control thread.
	Post(fn func())
	// After runs fn on the control thread once d has elapsed.
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer cancels a pending After callback. Stop reports whether the callback
// was prevented from running.
type Timer interface {
	Stop() bool
}

// Loop is a Scheduler backed by one goroutine draining an unbounded FIFO.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func New() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) run() {
	metrics.IncrementGoroutineCreated("eventloop")
	defer metrics.IncrementGoroutineDestroyed("eventloop")
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.queue = nil
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	return Call(ctx, l, fn)
}

// Close stops the loop. Pending closures are discarded; Close waits for the
// one currently running, unless called from the loop itself.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

type loopTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	t.fired = true
	return true
}

// Call posts fn to s and blocks until it has run or ctx is done. A closed
// Loop reports ErrClosed.
func Call(ctx context.Context, s Scheduler, fn func()) error {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})

	var closed <-chan struct{}
	if l, ok := s.(*Loop); ok {
		closed = l.Done()
	}

	select {
	case <-done:
		return nil
	case <-closed:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

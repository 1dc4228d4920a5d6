package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	require.NoError(t, l.Call(context.Background(), func() {}))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromManyGoroutines(t *testing.T) {
	l := New()
	defer l.Close()

	var count int
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				l.Post(func() { count++ })
			}
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, l.Call(context.Background(), func() { final = count }))
	assert.Equal(t, 2000, final)
}

func TestLoopPostFromInsideLoop(t *testing.T) {
	l := New()
	defer l.Close()

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post did not run")
	}
}

func TestLoopAfterAndStop(t *testing.T) {
	l := New()
	defer l.Close()

	var fired atomic.Int32
	l.After(10*time.Millisecond, func() { fired.Add(1) })
	stopped := l.After(10*time.Millisecond, func() { fired.Add(10) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestLoopClose(t *testing.T) {
	l := New()
	l.Close()
	l.Close()

	<-l.Done()
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrClosed)
	assert.NotPanics(t, func() { l.Post(func() {}) })
}

func TestCallContextCancelled(t *testing.T) {
	l := New()
	defer l.Close()

	block := make(chan struct{})
	l.Post(func() { <-block })
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Call(ctx, func() {}), context.DeadlineExceeded)
}

func TestManualScheduler(t *testing.T) {
	start := time.Unix(1000, 0)
	m := NewManual(start)

	var order []string
	m.After(300*time.Millisecond, func() { order = append(order, "b") })
	m.After(100*time.Millisecond, func() {
		order = append(order, "a")
		m.Post(func() { order = append(order, "a-post") })
	})
	cancelled := m.After(200*time.Millisecond, func() { order = append(order, "x") })
	m.Post(func() { order = append(order, "queued") })

	assert.Equal(t, 3, m.PendingTimers())
	assert.True(t, cancelled.Stop())

	m.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"queued", "a", "a-post"}, order)
	assert.Equal(t, start.Add(250*time.Millisecond), m.Now())

	m.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"queued", "a", "a-post", "b"}, order)
	assert.Equal(t, 0, m.PendingTimers())
}

func TestManualTimerFiresAtDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManual(start)

	var at time.Time
	m.After(time.Second, func() { at = m.Now() })
	m.Advance(5 * time.Second)

	assert.Equal(t, start.Add(time.Second), at)
	assert.Equal(t, start.Add(5*time.Second), m.Now())
}

func TestCallWithManual(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	ran := false
	errCh := make(chan error, 1)
	go func() { errCh <- Call(context.Background(), m, func() { ran = true }) }()

	require.Eventually(t, func() bool { return m.Drain() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, <-errCh)
	assert.True(t, ran)
}

package ingest

import (
	"math/rand/v2"
	"time"
)

// Backoff limits socket-level reconnects to MaxRetries per Window. Delays
// grow as BaseDelay * 2^(n-1) up to MaxDelay, plus up to MaxJitter of random
// jitter. The counter resets when a window has elapsed since the first
// retry in it, or on Reset after a successful open.
type Backoff struct {
	MaxRetries int
	Window     time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration

	retries     int
	windowStart time.Time
	jitter      func(max time.Duration) time.Duration
}

func NewBackoff(cfg Config) *Backoff {
	return &Backoff{
		MaxRetries: cfg.MaxReconnects,
		Window:     cfg.ReconnectWindow,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		MaxJitter:  cfg.MaxJitter,
		jitter:     randomJitter,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Next returns the delay before the next attempt, or false once the window
// budget is spent.
func (b *Backoff) Next(now time.Time) (time.Duration, bool) {
	if b.windowStart.IsZero() {
		b.windowStart = now
	}
	if now.Sub(b.windowStart) >= b.Window {
		b.retries = 0
		b.windowStart = now
	}
	if b.retries >= b.MaxRetries {
		return 0, false
	}

	b.retries++
	delay := b.BaseDelay << (b.retries - 1)
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	return delay + b.jitter(b.MaxJitter), true
}

func (b *Backoff) Reset() {
	b.retries = 0
	b.windowStart = time.Time{}
}

// Retries is the number of attempts made in the current window.
func (b *Backoff) Retries() int {
	return b.retries
}

package logger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate-limits high frequency log categories (per-frame drops,
// decode rejections) so a broken stream cannot flood the output. Messages
// without a registered category always pass.
type SampledLogger struct {
	base Logger

	mu       sync.Mutex
	samplers map[string]*sampler
}

type sampler struct {
	limiter    *rate.Limiter
	suppressed uint64
	total      uint64
}

// SamplerStats reports counters for one category.
type SamplerStats struct {
	Total      uint64
	Suppressed uint64
}

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     OrNull(base),
		samplers: make(map[string]*sampler),
	}
}

// WithSampler allows burst messages per category, then one per interval.
func (s *SampledLogger) WithSampler(category string, interval time.Duration, burst int) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samplers[category] = &sampler{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
	return s
}

// NewFrameLogger returns a SampledLogger preconfigured for the player's
// per-frame categories.
func NewFrameLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler("frame_drop", time.Second, 5).
		WithSampler("decode", time.Second, 5).
		WithSampler("append", time.Second, 10).
		WithSampler("transport", 5*time.Second, 3)
}

// allow reports whether a message in category should be emitted, and how
// many were suppressed since the last one.
func (s *SampledLogger) allow(category string) (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.samplers[category]
	if !ok {
		return true, 0
	}

	sm.total++
	if !sm.limiter.Allow() {
		sm.suppressed++
		return false, 0
	}

	dropped := sm.suppressed
	sm.suppressed = 0
	return true, dropped
}

// Sample logs msg at level when category's budget allows it.
func (s *SampledLogger) Sample(level logrus.Level, category, msg string, fields map[string]interface{}) {
	ok, dropped := s.allow(category)
	if !ok {
		return
	}

	l := s.base.WithField("category", category)
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}
	if dropped > 0 {
		l = l.WithField("suppressed", dropped)
	}
	l.Log(level, msg)
}

func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]SamplerStats, len(s.samplers))
	for name, sm := range s.samplers {
		stats[name] = SamplerStats{Total: sm.total, Suppressed: sm.suppressed}
	}
	return stats
}

// Logger returns the unsampled base logger.
func (s *SampledLogger) Logger() Logger {
	return s.base
}

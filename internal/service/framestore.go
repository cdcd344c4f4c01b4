package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gladhopper/fd/internal/domain"
)

// StatsSnapshot is a point-in-time copy of the counters, always carrying the
// rolling-average window size alongside the average itself.
type StatsSnapshot struct {
	TotalFrames          int64
	TotalErrors          int64
	ConsecutiveErrors    int
	ConsecutiveSuccesses int
	MeanProcessing       time.Duration
	Window               int
	LastSuccess          time.Time
	SuccessRate          float64
}

// FrameStore holds the single most recent frame and the performance
// counters. The frame is replaced atomically: readers either see the old
// frame or the new one, never a torn value, and never block on an in-flight
// extraction.
type FrameStore struct {
	frame atomic.Pointer[domain.Frame]

	mu    sync.Mutex
	stats domain.Stats
}

func NewFrameStore() *FrameStore {
	return &FrameStore{}
}

// Publish replaces the latest frame.
func (fs *FrameStore) Publish(f *domain.Frame) {
	fs.frame.Store(f)
}

// Latest returns the most recent frame, nil before the first success.
func (fs *FrameStore) Latest() *domain.Frame {
	return fs.frame.Load()
}

func (fs *FrameStore) RecordSuccess(took time.Duration) {
	fs.mu.Lock()
	fs.stats.RecordSuccess(took, time.Now())
	fs.mu.Unlock()
}

func (fs *FrameStore) RecordError() {
	fs.mu.Lock()
	fs.stats.RecordError()
	fs.mu.Unlock()
}

// HalveConsecutiveErrors applies the controller's partial reset after a
// downgrade; a full reset would let a still-broken decoder immediately
// re-trigger the threshold climb.
func (fs *FrameStore) HalveConsecutiveErrors() {
	fs.mu.Lock()
	fs.stats.ConsecutiveErrors /= 2
	fs.mu.Unlock()
}

func (fs *FrameStore) Snapshot() StatsSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return StatsSnapshot{
		TotalFrames:          fs.stats.TotalFrames,
		TotalErrors:          fs.stats.TotalErrors,
		ConsecutiveErrors:    fs.stats.ConsecutiveErrors,
		ConsecutiveSuccesses: fs.stats.ConsecutiveSuccesses,
		MeanProcessing:       fs.stats.MeanProcessingTime(),
		Window:               domain.StatsWindow,
		LastSuccess:          fs.stats.LastSuccess,
		SuccessRate:          fs.stats.SuccessRate(),
	}
}

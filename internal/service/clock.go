package service

import (
	"math"
	"time"
)

// VirtualClock maps wall-clock elapsed time onto a looping position inside
// the media duration. Every reader derives the same position from the same
// epoch, so all observers agree on what should be visible right now.
type VirtualClock struct {
	start    time.Time
	duration float64 // seconds, > 0
}

func NewVirtualClock(duration float64) *VirtualClock {
	return NewVirtualClockAt(duration, time.Now())
}

func NewVirtualClockAt(duration float64, start time.Time) *VirtualClock {
	if duration <= 0 {
		duration = 1
	}
	return &VirtualClock{start: start, duration: duration}
}

// Position returns the looped playback position in [0, duration).
func (c *VirtualClock) Position(now time.Time) float64 {
	elapsed := now.Sub(c.start).Seconds()
	pos := math.Mod(elapsed, c.duration)
	if pos < 0 {
		pos += c.duration
	}
	return pos
}

func (c *VirtualClock) StartEpoch() time.Time { return c.start }
func (c *VirtualClock) Duration() float64     { return c.duration }

// FrameIndex is the frame number at pos for the given rate.
func FrameIndex(pos, fps float64) int {
	return int(pos * fps)
}

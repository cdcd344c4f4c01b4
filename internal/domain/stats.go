package domain

import "time"

// StatsWindow is the number of recent successes the rolling mean covers.
const StatsWindow = 30

// Stats accumulates extraction outcomes. Not safe for concurrent use on its
// own; the frame store guards it.
type Stats struct {
	TotalFrames          int64
	TotalErrors          int64
	ConsecutiveErrors    int
	ConsecutiveSuccesses int
	LastSuccess          time.Time

	recent [StatsWindow]time.Duration
	count  int
	next   int
}

// RecordSuccess notes one successful extraction and its processing time.
// ConsecutiveErrors decays by one per success rather than resetting, so a
// flapping decoder cannot oscillate the quality ladder.
func (s *Stats) RecordSuccess(took time.Duration, at time.Time) {
	s.TotalFrames++
	s.ConsecutiveSuccesses++
	if s.ConsecutiveErrors > 0 {
		s.ConsecutiveErrors--
	}
	s.LastSuccess = at

	s.recent[s.next] = took
	s.next = (s.next + 1) % StatsWindow
	if s.count < StatsWindow {
		s.count++
	}
}

// RecordError notes one failed logical extraction.
func (s *Stats) RecordError() {
	s.TotalErrors++
	s.ConsecutiveErrors++
	s.ConsecutiveSuccesses = 0
}

// MeanProcessingTime is the rolling mean over the last StatsWindow successes,
// zero until the first success.
func (s *Stats) MeanProcessingTime() time.Duration {
	if s.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < s.count; i++ {
		sum += s.recent[i]
	}
	return sum / time.Duration(s.count)
}

// SuccessRate is TotalFrames / (TotalFrames + TotalErrors), 1.0 before any
// attempt has finished.
func (s *Stats) SuccessRate() float64 {
	total := s.TotalFrames + s.TotalErrors
	if total == 0 {
		return 1.0
	}
	return float64(s.TotalFrames) / float64(total)
}

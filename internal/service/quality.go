package service

import (
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
)

// MemorySampler returns the process resident set size in bytes, 0 when
// sampling fails.
type MemorySampler func() uint64

// ProcessRSS samples this process's RSS via gopsutil.
func ProcessRSS() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return mi.RSS
}

// Decision is what the controller wants applied after observing one finished
// extraction: an optional pause and an optional partial error-counter reset.
type Decision struct {
	Downgraded  bool
	Upgraded    bool
	HalveErrors bool
	Cooldown    time.Duration
}

// StatsView is the read-only slice of counters the controller decides on.
type StatsView struct {
	ConsecutiveErrors    int
	ConsecutiveSuccesses int
	MeanProcessing       time.Duration
}

// QualityController moves a single pointer across the profile ladder, one
// adjacent step at a time, clamped at both ends. Downgrades fire on error
// pressure or memory pressure; upgrades only after a sustained window of
// fast successes.
type QualityController struct {
	mu               sync.Mutex
	ladder           []domain.Profile
	idx              int
	maxConsecErrors  int
	memoryLimit      uint64
	upgradeWindow    int
	fastThreshold    time.Duration
	minTicksBetween  int
	ticksSinceAdjust int
	sample           MemorySampler
}

func NewQualityController(ladder []domain.Profile, startIdx, maxConsecErrors int, memoryLimit uint64, upgradeWindow int, sample MemorySampler) *QualityController {
	if len(ladder) == 0 {
		ladder = domain.DefaultLadder()
	}
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx >= len(ladder) {
		startIdx = len(ladder) - 1
	}
	if sample == nil {
		sample = ProcessRSS
	}
	return &QualityController{
		ladder:          ladder,
		idx:             startIdx,
		maxConsecErrors: maxConsecErrors,
		memoryLimit:     memoryLimit,
		upgradeWindow:   upgradeWindow,
		fastThreshold:   500 * time.Millisecond,
		minTicksBetween: 2 * upgradeWindow,
		sample:          sample,
	}
}

// Current returns the active profile. In-flight requests keep the profile
// they were built with; only the next request sees a change.
func (q *QualityController) Current() domain.Profile {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ladder[q.idx]
}

// MemoryUsage samples current RSS.
func (q *QualityController) MemoryUsage() uint64 {
	return q.sample()
}

// Observe decides after one finished logical extraction. Error pressure
// wins over memory pressure; at most one ladder step per call.
func (q *QualityController) Observe(view StatsView) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ticksSinceAdjust++

	if q.maxConsecErrors > 0 && view.ConsecutiveErrors >= q.maxConsecErrors {
		down := q.stepDown()
		cooldown := time.Duration(view.ConsecutiveErrors) * 500 * time.Millisecond
		if cooldown > 10*time.Second {
			cooldown = 10 * time.Second
		}
		if down {
			logger.Warn.Printf("downgrading to %s after %d consecutive errors, cooling down %s",
				q.ladder[q.idx].Name, view.ConsecutiveErrors, cooldown)
		}
		return Decision{Downgraded: down, HalveErrors: true, Cooldown: cooldown}
	}

	if q.memoryLimit > 0 {
		if rss := q.sample(); rss > q.memoryLimit {
			down := q.stepDown()
			if down {
				logger.Warn.Printf("downgrading to %s under memory pressure (rss=%d MB)",
					q.ladder[q.idx].Name, rss/(1<<20))
			}
			// Best-effort hint; lets the next sample see released pages.
			debug.FreeOSMemory()
			return Decision{Downgraded: down, Cooldown: 2 * time.Second}
		}
	}

	if q.upgradeWindow > 0 &&
		view.ConsecutiveSuccesses >= q.upgradeWindow &&
		view.MeanProcessing > 0 &&
		view.MeanProcessing < q.fastThreshold &&
		q.ticksSinceAdjust >= q.minTicksBetween {
		if q.stepUp() {
			logger.Info.Printf("upgrading to %s after %d fast successes", q.ladder[q.idx].Name, view.ConsecutiveSuccesses)
			return Decision{Upgraded: true}
		}
	}

	return Decision{}
}

func (q *QualityController) stepDown() bool {
	if q.idx == 0 {
		return false
	}
	q.idx--
	q.ticksSinceAdjust = 0
	return true
}

func (q *QualityController) stepUp() bool {
	if q.idx == len(q.ladder)-1 {
		return false
	}
	q.idx++
	q.ticksSinceAdjust = 0
	return true
}

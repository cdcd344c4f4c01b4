package service

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
	"github.com/gladhopper/fd/internal/port"
)

// SyncInfo is the shared-playback snapshot every observer polls.
type SyncInfo struct {
	VirtualTime float64   `json:"virtualTime"`
	FrameIndex  int       `json:"frameIndex"`
	ServerTime  time.Time `json:"serverTime"`
	StartEpoch  time.Time `json:"startEpoch"`
	Duration    float64   `json:"duration"`
	FPS         float64   `json:"fps"`
	Profile     string    `json:"profile"`
}

// Health is the degradation snapshot for external probes.
type Health struct {
	Healthy           bool    `json:"healthy"`
	ConsecutiveErrors int     `json:"consecutiveErrors"`
	LastSuccessAge    float64 `json:"lastSuccessAgeSec"`
	ActiveInstances   int     `json:"activeInstanceCount"`
	MemoryUsage       uint64  `json:"memoryUsageBytes"`
}

// Scheduler drives one extraction per tick at the current profile's frame
// interval. Single-flight: a tick that arrives while an extraction is in
// flight is skipped, never queued. Failures are counted and otherwise
// ignored; the published frame simply goes stale.
type Scheduler struct {
	clock    *VirtualClock
	quality  *QualityController
	retrier  *Retrier
	store    *FrameStore
	registry *Registry
	journal  port.Journal // nil when journaling is off
	source   domain.Source

	inFlight      atomic.Bool
	cooldownUntil atomic.Int64  // unix nanos
	lastPosBits   atomic.Uint64 // position of the last success, NaN before it
}

func NewScheduler(clock *VirtualClock, quality *QualityController, retrier *Retrier, store *FrameStore, registry *Registry, journal port.Journal, source domain.Source) *Scheduler {
	s := &Scheduler{
		clock:    clock,
		quality:  quality,
		retrier:  retrier,
		store:    store,
		registry: registry,
		journal:  journal,
		source:   source,
	}
	s.lastPosBits.Store(math.Float64bits(math.NaN()))
	return s
}

// Run ticks until ctx is canceled. The timer is re-armed every loop so a
// profile change takes effect on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		profile := s.quality.Current()
		interval := time.Duration(float64(time.Second) / profile.FPS)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if time.Now().UnixNano() < s.cooldownUntil.Load() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}

	profile := s.quality.Current()
	pos := s.clock.Position(time.Now())

	if !s.advancedEnough(pos, profile.FPS) {
		s.inFlight.Store(false)
		return
	}

	req := domain.Request{Source: s.source, Position: pos, Profile: profile}

	// The extraction is awaited off the tick loop so the timer keeps firing
	// (and skipping) while the subprocess runs.
	go func() {
		defer s.inFlight.Store(false)
		s.runExtraction(ctx, req)
	}()
}

func (s *Scheduler) runExtraction(ctx context.Context, req domain.Request) {
	start := time.Now()
	frame, attempts, err := s.retrier.Extract(ctx, req)
	took := time.Since(start)

	if errors.Is(err, domain.ErrOverloaded) {
		// Not a decode failure: the ceiling was busy, this tick is dropped.
		logger.Debug.Printf("tick skipped at t=%.3fs: %v", req.Position, err)
		return
	}

	if err != nil {
		s.store.RecordError()
		s.record(req, attempts, took, "", err)
		logger.Error.Printf("extraction failed at t=%.3fs after %d attempt(s): %v", req.Position, attempts, err)
		s.applyDecision(s.quality.Observe(s.view()))
		return
	}

	s.store.Publish(frame)
	s.store.RecordSuccess(took)
	s.lastPosBits.Store(math.Float64bits(frame.Position))

	outcome := "ok"
	if frame.Degraded {
		outcome = "degraded"
	}
	s.record(req, attempts, took, outcome, nil)
	s.applyDecision(s.quality.Observe(s.view()))
}

func (s *Scheduler) view() StatsView {
	snap := s.store.Snapshot()
	return StatsView{
		ConsecutiveErrors:    snap.ConsecutiveErrors,
		ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
		MeanProcessing:       snap.MeanProcessing,
	}
}

func (s *Scheduler) applyDecision(d Decision) {
	if d.HalveErrors {
		s.store.HalveConsecutiveErrors()
	}
	if d.Cooldown > 0 {
		s.cooldownUntil.Store(time.Now().Add(d.Cooldown).UnixNano())
	}
}

// advancedEnough skips redundant decode work: when the virtual clock has
// moved less than one frame interval since the last success, the current
// frame is still the right one.
func (s *Scheduler) advancedEnough(pos, fps float64) bool {
	last := math.Float64frombits(s.lastPosBits.Load())
	if math.IsNaN(last) {
		return true
	}
	diff := pos - last
	if diff < 0 {
		diff += s.clock.Duration() // wrapped around the loop
	}
	return diff >= 1.0/fps
}

func (s *Scheduler) record(req domain.Request, attempts int, took time.Duration, outcome string, err error) {
	if s.journal == nil {
		return
	}
	a := port.Attempt{
		Source:   req.Source.Name,
		Position: req.Position,
		Profile:  req.Profile.Name,
		Outcome:  outcome,
		Attempts: attempts,
		Duration: took,
	}
	if err != nil {
		a.Outcome = "error"
		a.Error = err.Error()
	}
	if jerr := s.journal.Record(a); jerr != nil {
		logger.Error.Printf("journal write failed: %v", jerr)
	}
}

// SyncInfo snapshots the shared virtual clock.
func (s *Scheduler) SyncInfo() SyncInfo {
	now := time.Now()
	profile := s.quality.Current()
	pos := s.clock.Position(now)
	return SyncInfo{
		VirtualTime: pos,
		FrameIndex:  FrameIndex(pos, profile.FPS),
		ServerTime:  now,
		StartEpoch:  s.clock.StartEpoch(),
		Duration:    s.clock.Duration(),
		FPS:         profile.FPS,
		Profile:     profile.Name,
	}
}

// Health snapshots degradation state without blocking on any extraction.
func (s *Scheduler) Health() Health {
	snap := s.store.Snapshot()
	age := 0.0
	healthy := true
	if snap.LastSuccess.IsZero() {
		healthy = snap.TotalErrors == 0 // still warming up
	} else {
		age = time.Since(snap.LastSuccess).Seconds()
	}
	if snap.ConsecutiveErrors >= 3 || age > 30 {
		healthy = false
	}
	return Health{
		Healthy:           healthy,
		ConsecutiveErrors: snap.ConsecutiveErrors,
		LastSuccessAge:    age,
		ActiveInstances:   s.registry.Count(),
		MemoryUsage:       s.quality.MemoryUsage(),
	}
}

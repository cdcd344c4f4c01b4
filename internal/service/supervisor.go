package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
	"github.com/gladhopper/fd/internal/port"
)

// DefaultSizeTolerance is the accepted shortfall/overrun fraction before a
// wrong-size decoder payload counts as a stream error. Observed decoder
// behavior near end-of-stream, not a contract; override via config.
const DefaultSizeTolerance = 0.10

// ExitClassifier maps a decoder exit error plus captured stderr onto the
// domain error taxonomy.
type ExitClassifier func(exitErr error, stderr string) error

// Supervisor owns the lifecycle of one decoder invocation at a time per
// call: admit, register, spawn, accumulate output, enforce the deadline and
// guarantee termination on every exit path. Extract is synchronous and emits
// exactly one terminal outcome even when the timeout and the process's own
// completion race.
type Supervisor struct {
	decoder   port.Decoder
	limiter   *Limiter
	registry  *Registry
	classify  ExitClassifier
	timeout   time.Duration
	killGrace time.Duration
	tolerance float64
}

func NewSupervisor(decoder port.Decoder, limiter *Limiter, registry *Registry, classify ExitClassifier, timeout, killGrace time.Duration, tolerance float64) *Supervisor {
	if classify == nil {
		classify = func(exitErr error, stderr string) error {
			return fmt.Errorf("%w: %v", domain.ErrStreamError, exitErr)
		}
	}
	if tolerance <= 0 {
		tolerance = DefaultSizeTolerance
	}
	return &Supervisor{
		decoder:   decoder,
		limiter:   limiter,
		registry:  registry,
		classify:  classify,
		timeout:   timeout,
		killGrace: killGrace,
		tolerance: tolerance,
	}
}

type decodeResult struct {
	data []byte
	err  error
}

func (s *Supervisor) Extract(ctx context.Context, req domain.Request) (frame *domain.Frame, err error) {
	if !s.limiter.TryAdmit() {
		return nil, domain.ErrOverloaded
	}
	defer s.limiter.Release()

	// Nothing inside one extraction may crash the scheduler.
	defer func() {
		if r := recover(); r != nil {
			logger.Error.Printf("panic during extraction: %v", r)
			frame, err = nil, fmt.Errorf("%w: panic: %v", domain.ErrStreamError, r)
		}
	}()

	inst := s.registry.Register()
	// Idempotent; runs on every path including a recovered panic. The
	// timeout and cancel paths block on exited first, so removal still
	// means the process is confirmed gone.
	defer s.registry.Remove(inst.ID)

	proc, err := s.decoder.Start(req)
	if err != nil {
		return nil, err
	}

	want := req.Profile.FrameBytes()

	// The reader goroutine owns Output and Wait: it accumulates stdout until
	// the process closes it, reaps the process, then publishes exactly one
	// result. exited is the termination confirmation every cleanup path
	// blocks on.
	exited := make(chan struct{})
	resCh := make(chan decodeResult, 1)
	go func() {
		buf := bytes.NewBuffer(make([]byte, 0, want))
		_, readErr := io.Copy(buf, proc.Output())
		waitErr := proc.Wait()
		close(exited)

		switch {
		case waitErr != nil:
			resCh <- decodeResult{data: buf.Bytes(), err: s.classify(waitErr, proc.Stderr())}
		case readErr != nil && !errors.Is(readErr, io.EOF):
			resCh <- decodeResult{data: buf.Bytes(), err: fmt.Errorf("%w: read output: %v", domain.ErrStreamError, readErr)}
		default:
			resCh <- decodeResult{data: buf.Bytes()}
		}
	}()

	// Settles once no matter how many paths race to it: the deadline here,
	// the stale sweep, shutdown. Graceful signal first, forced kill after
	// the grace window.
	var settle sync.Once
	cleanup := func() {
		settle.Do(func() {
			_ = proc.Terminate()
			select {
			case <-exited:
			case <-time.After(s.killGrace):
				_ = proc.Kill()
			}
		})
	}
	inst.SetRunning(proc.Pid(), cleanup)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var res decodeResult
	select {
	case res = <-resCh:
	case <-timer.C:
		inst.Cleanup()
		<-exited
		return nil, fmt.Errorf("%w: no frame after %s (pid=%d)", domain.ErrDecodeTimeout, s.timeout, inst.Pid())
	case <-ctx.Done():
		inst.Cleanup()
		<-exited
		return nil, fmt.Errorf("%w: canceled: %v", domain.ErrStreamError, ctx.Err())
	}

	if res.err != nil {
		return nil, res.err
	}
	return s.assemble(req, res.data, want)
}

// assemble applies the byte-count policy: exact payloads pass through, a
// mismatch within tolerance becomes a degraded success truncated or
// zero-padded to exactly want bytes, anything else is a stream error.
func (s *Supervisor) assemble(req domain.Request, data []byte, want int) (*domain.Frame, error) {
	got := len(data)
	degraded := false

	switch {
	case got == want:
	case got < want && float64(got) >= float64(want)*(1-s.tolerance):
		padded := make([]byte, want)
		copy(padded, data)
		data = padded
		degraded = true
		logger.Warn.Printf("degraded frame: decoder produced %d of %d bytes at t=%.3fs", got, want, req.Position)
	case got > want && float64(got) <= float64(want)*(1+s.tolerance):
		data = data[:want]
		degraded = true
		logger.Warn.Printf("degraded frame: decoder produced %d of %d bytes at t=%.3fs", got, want, req.Position)
	default:
		return nil, fmt.Errorf("%w: buffer size mismatch: got %d bytes, want %d", domain.ErrStreamError, got, want)
	}

	return &domain.Frame{
		Pixels:    data,
		Index:     int(req.Position * req.Profile.FPS),
		Position:  req.Position,
		Width:     req.Profile.Width,
		Height:    req.Profile.Height,
		Timestamp: time.Now(),
		Degraded:  degraded,
	}, nil
}

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/port"
)

// fakeProc scripts one decoder subprocess. finish closes the output pipe and
// publishes the exit status, exactly once, like a real process exiting.
type fakeProc struct {
	pr         *io.PipeReader
	pw         *io.PipeWriter
	stderrText string
	waitCh     chan error
	finishOnce sync.Once
	termCount  atomic.Int32
	killCount  atomic.Int32
	dieOnTerm  bool
}

func newFakeProc() *fakeProc {
	pr, pw := io.Pipe()
	return &fakeProc{pr: pr, pw: pw, waitCh: make(chan error, 1)}
}

func (p *fakeProc) finish(err error) {
	p.finishOnce.Do(func() {
		_ = p.pw.Close()
		p.waitCh <- err
	})
}

func (p *fakeProc) Output() io.ReadCloser { return p.pr }
func (p *fakeProc) Stderr() string        { return p.stderrText }
func (p *fakeProc) Pid() int              { return 4242 }

func (p *fakeProc) Terminate() error {
	p.termCount.Add(1)
	if p.dieOnTerm {
		p.finish(errors.New("terminated"))
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.killCount.Add(1)
	p.finish(errors.New("killed"))
	return nil
}

func (p *fakeProc) Wait() error { return <-p.waitCh }

type fakeDecoder struct {
	start func(req domain.Request) (port.DecodeProc, error)
}

func (d *fakeDecoder) Start(req domain.Request) (port.DecodeProc, error) {
	return d.start(req)
}

func testRequest(w, h int) domain.Request {
	return domain.Request{
		Source:   domain.Source{Name: "clip", Path: "/videos/clip.mp4", Duration: 60},
		Position: 12.5,
		Profile:  domain.Profile{Name: "test", Width: w, Height: h, FPS: 10, Preset: "veryfast"},
	}
}

func newTestSupervisor(decoder port.Decoder, timeout, grace time.Duration) (*Supervisor, *Registry, *Limiter) {
	limiter := NewLimiter(2)
	registry := NewRegistry()
	sup := NewSupervisor(decoder, limiter, registry, nil, timeout, grace, 0.10)
	return sup, registry, limiter
}

func TestSupervisor_ExactPayloadSucceeds(t *testing.T) {
	req := testRequest(10, 10)
	want := req.Profile.FrameBytes()

	proc := newFakeProc()
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		go func() {
			_, _ = proc.pw.Write(bytes.Repeat([]byte{7}, want))
			proc.finish(nil)
		}()
		return proc, nil
	}}

	sup, registry, limiter := newTestSupervisor(decoder, time.Second, 100*time.Millisecond)

	frame, err := sup.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, frame.Pixels, want)
	assert.False(t, frame.Degraded)
	assert.Equal(t, 125, frame.Index) // 12.5s * 10fps
	assert.Equal(t, 10, frame.Width)
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 0, limiter.Active())
}

func TestSupervisor_ShortfallWithinToleranceIsDegraded(t *testing.T) {
	req := testRequest(10, 10)
	want := req.Profile.FrameBytes() // 300
	short := want * 95 / 100

	proc := newFakeProc()
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		go func() {
			_, _ = proc.pw.Write(bytes.Repeat([]byte{9}, short))
			proc.finish(nil)
		}()
		return proc, nil
	}}

	sup, _, _ := newTestSupervisor(decoder, time.Second, 100*time.Millisecond)

	frame, err := sup.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, frame.Degraded)
	assert.Len(t, frame.Pixels, want)
	assert.Equal(t, byte(9), frame.Pixels[short-1])
	assert.Equal(t, byte(0), frame.Pixels[want-1]) // zero padded tail
}

func TestSupervisor_ShortfallBeyondToleranceFails(t *testing.T) {
	req := testRequest(10, 10)
	want := req.Profile.FrameBytes()

	proc := newFakeProc()
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		go func() {
			_, _ = proc.pw.Write(bytes.Repeat([]byte{1}, want/2))
			proc.finish(nil)
		}()
		return proc, nil
	}}

	sup, registry, _ := newTestSupervisor(decoder, time.Second, 100*time.Millisecond)

	_, err := sup.Extract(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrStreamError)
	assert.Contains(t, err.Error(), "buffer size mismatch")
	assert.Equal(t, 0, registry.Count())
}

func TestSupervisor_ExitErrorUsesClassifier(t *testing.T) {
	proc := newFakeProc()
	proc.stderrText = "clip.mp4: Invalid data found when processing input"
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		go func() { proc.finish(errors.New("exit status 1")) }()
		return proc, nil
	}}

	classify := func(exitErr error, stderr string) error {
		return fmt.Errorf("%w: %s", domain.ErrMalformedSource, stderr)
	}
	sup := NewSupervisor(decoder, NewLimiter(1), NewRegistry(), classify, time.Second, 100*time.Millisecond, 0.10)

	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	assert.ErrorIs(t, err, domain.ErrMalformedSource)
	assert.Contains(t, err.Error(), "Invalid data")
}

func TestSupervisor_HangTerminatedGracefully(t *testing.T) {
	proc := newFakeProc()
	proc.dieOnTerm = true
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		return proc, nil // never writes, never exits on its own
	}}

	sup, registry, limiter := newTestSupervisor(decoder, 50*time.Millisecond, 200*time.Millisecond)

	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	assert.ErrorIs(t, err, domain.ErrDecodeTimeout)
	assert.Equal(t, int32(1), proc.termCount.Load())
	assert.Equal(t, int32(0), proc.killCount.Load())
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 0, limiter.Active())
}

func TestSupervisor_StubbornHangForceKilledWithinBound(t *testing.T) {
	// Scenario: the subprocess ignores the graceful signal. It must be gone,
	// and out of the table, within timeout + grace.
	proc := newFakeProc()
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		return proc, nil
	}}

	timeout := 50 * time.Millisecond
	grace := 50 * time.Millisecond
	sup, registry, _ := newTestSupervisor(decoder, timeout, grace)

	start := time.Now()
	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrDecodeTimeout)
	assert.Equal(t, int32(1), proc.termCount.Load())
	assert.Equal(t, int32(1), proc.killCount.Load())
	assert.Equal(t, 0, registry.Count())
	assert.Less(t, elapsed, timeout+grace+200*time.Millisecond)
}

func TestSupervisor_CleanupIsIdempotentAcrossRacingPaths(t *testing.T) {
	proc := newFakeProc()
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		return proc, nil
	}}

	sup, registry, _ := newTestSupervisor(decoder, 150*time.Millisecond, 30*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := sup.Extract(context.Background(), testRequest(4, 4))
		done <- err
	}()

	// Let the stale sweep race the supervisor's own timeout path.
	time.Sleep(20 * time.Millisecond)
	registry.Sweep(0)
	registry.Sweep(0)

	err := <-done
	assert.Error(t, err)
	assert.Equal(t, int32(1), proc.termCount.Load(), "graceful signal must fire once")
	assert.LessOrEqual(t, proc.killCount.Load(), int32(1))
	assert.Equal(t, 0, registry.Count())
}

func TestSupervisor_OverloadedWhenCeilingReached(t *testing.T) {
	started := atomic.Int32{}
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		started.Add(1)
		return nil, errors.New("unreachable")
	}}

	limiter := NewLimiter(1)
	require.True(t, limiter.TryAdmit())
	sup := NewSupervisor(decoder, limiter, NewRegistry(), nil, time.Second, 100*time.Millisecond, 0.10)

	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	assert.ErrorIs(t, err, domain.ErrOverloaded)
	assert.Equal(t, int32(0), started.Load())
}

func TestSupervisor_StartFailurePassesThrough(t *testing.T) {
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		return nil, fmt.Errorf("%w: /videos/clip.mp4", domain.ErrSourceMissing)
	}}

	sup, registry, limiter := newTestSupervisor(decoder, time.Second, 100*time.Millisecond)

	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	assert.ErrorIs(t, err, domain.ErrSourceMissing)
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 0, limiter.Active())
}

func TestSupervisor_PanicConvertsToRetryableFailure(t *testing.T) {
	decoder := &fakeDecoder{start: func(domain.Request) (port.DecodeProc, error) {
		panic("decoder bug")
	}}

	sup, registry, limiter := newTestSupervisor(decoder, time.Second, 100*time.Millisecond)

	_, err := sup.Extract(context.Background(), testRequest(4, 4))
	assert.ErrorIs(t, err, domain.ErrStreamError)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, 0, limiter.Active())
	assert.Equal(t, 0, registry.Count())
}

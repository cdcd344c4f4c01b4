package service

import (
	"context"
	"sync"
	"time"

	"github.com/gladhopper/fd/internal/infrastructure/logger"
)

type InstanceStatus string

const (
	InstanceStarting   InstanceStatus = "starting"
	InstanceRunning    InstanceStatus = "running"
	InstanceCleaningUp InstanceStatus = "cleaning_up"
)

// Instance is the runtime handle to one in-flight decoder invocation. It is
// owned by the supervisor; the registry tracks it so the stale sweep and
// shutdown can reach every live subprocess.
type Instance struct {
	ID        uint64
	StartedAt time.Time

	mu      sync.Mutex
	pid     int
	status  InstanceStatus
	cleanup func()

	done chan struct{}
}

func (in *Instance) SetRunning(pid int, cleanup func()) {
	in.mu.Lock()
	in.pid = pid
	in.status = InstanceRunning
	in.cleanup = cleanup
	in.mu.Unlock()
}

func (in *Instance) Pid() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pid
}

func (in *Instance) Status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// Cleanup triggers the instance's termination sequence. Safe to call from
// the supervisor, the stale sweep and shutdown at the same time: the
// underlying sequence settles once.
func (in *Instance) Cleanup() {
	in.mu.Lock()
	in.status = InstanceCleaningUp
	fn := in.cleanup
	in.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Registry is the global instance table. Every registered instance must be
// removed after confirmed termination; the sweep is a backstop for cleanup
// paths that were missed.
type Registry struct {
	mu        sync.Mutex
	instances map[uint64]*Instance
	nextID    uint64
}

func NewRegistry() *Registry {
	return &Registry{instances: make(map[uint64]*Instance)}
}

func (r *Registry) Register() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	in := &Instance{
		ID:        r.nextID,
		StartedAt: time.Now(),
		status:    InstanceStarting,
		done:      make(chan struct{}),
	}
	r.instances[in.ID] = in
	return in
}

// Remove drops the instance from the table. Only called once the underlying
// process is confirmed terminated.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	in, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
	}
	r.mu.Unlock()
	if ok {
		close(in.done)
	}
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Sweep triggers cleanup of every instance older than staleAfter and returns
// how many it reaped.
func (r *Registry) Sweep(staleAfter time.Duration) int {
	cutoff := time.Now().Add(-staleAfter)
	r.mu.Lock()
	var stale []*Instance
	for _, in := range r.instances {
		if in.StartedAt.Before(cutoff) {
			stale = append(stale, in)
		}
	}
	r.mu.Unlock()

	for _, in := range stale {
		logger.Warn.Printf("reaping stale extraction instance %d (pid=%d, age=%s)",
			in.ID, in.Pid(), time.Since(in.StartedAt).Round(time.Millisecond))
		in.Cleanup()
	}
	return len(stale)
}

// Shutdown triggers cleanup of all live instances and waits until each is
// confirmed terminated or ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		live = append(live, in)
	}
	r.mu.Unlock()

	for _, in := range live {
		in.Cleanup()
	}
	for _, in := range live {
		select {
		case <-in.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

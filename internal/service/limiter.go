package service

// Limiter is a counting semaphore bounding concurrent decoder subprocesses.
// TryAdmit never blocks: when the ceiling is reached the extraction is
// rejected as overloaded and the scheduler skips the tick.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{slots: make(chan struct{}, max)}
}

func (l *Limiter) TryAdmit() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees one admitted slot. Must be paired exactly once with a
// successful TryAdmit.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		// unpaired release is a programming error; keep the count sane
	}
}

// Active returns the number of currently admitted extractions.
func (l *Limiter) Active() int {
	return len(l.slots)
}

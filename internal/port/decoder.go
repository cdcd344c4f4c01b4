package port

import (
	"io"

	"github.com/gladhopper/fd/internal/domain"
)

// DecodeProc is one running decoder subprocess. The supervisor owns it for
// its whole lifetime and guarantees Terminate/Kill/Wait are called on every
// exit path.
type DecodeProc interface {
	// Output streams the raw pixel bytes. Closed by the process on exit.
	Output() io.ReadCloser
	// Stderr returns whatever the process wrote to stderr so far.
	Stderr() string
	Pid() int
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill forces the process down. Used after the grace window expires.
	Kill() error
	// Wait blocks until the process has exited and releases its resources.
	// Must be called exactly once.
	Wait() error
}

// Decoder spawns one frame extraction. Start fails with
// domain.ErrSourceMissing when the source file does not exist.
type Decoder interface {
	Start(req domain.Request) (DecodeProc, error)
}

// Prober resolves a media duration in seconds. Callers substitute a fallback
// duration on error rather than blocking startup.
type Prober interface {
	Duration(path string) (float64, error)
}

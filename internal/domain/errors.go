package domain

import "errors"

var (
	// ErrSourceMissing means the source file does not exist. Terminal.
	ErrSourceMissing = errors.New("source file missing")
	// ErrMalformedSource means the decoder rejected the source data. Terminal.
	ErrMalformedSource = errors.New("malformed source data")
	// ErrDecodeTimeout means the decoder exceeded its deadline. Retryable.
	ErrDecodeTimeout = errors.New("decode timeout")
	// ErrStreamError covers transient decoder output failures. Retryable.
	ErrStreamError = errors.New("decoder stream error")
	// ErrOverloaded means the concurrency ceiling rejected the extraction.
	// Never retried; the scheduler skips the tick.
	ErrOverloaded = errors.New("extraction limit reached")
)

// Retryable reports whether the retry controller may re-attempt after err.
func Retryable(err error) bool {
	return errors.Is(err, ErrDecodeTimeout) || errors.Is(err, ErrStreamError)
}

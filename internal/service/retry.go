package service

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
)

// Extractor is what the retry controller drives; satisfied by Supervisor.
type Extractor interface {
	Extract(ctx context.Context, req domain.Request) (*domain.Frame, error)
}

// Retrier re-attempts retryable extraction failures with capped exponential
// backoff. Terminal failures (missing or malformed source, overload) return
// immediately; a logical request never runs more than maxRetries+1 attempts.
type Retrier struct {
	extractor  Extractor
	maxRetries uint64
	baseDelay  time.Duration
	capDelay   time.Duration
}

func NewRetrier(extractor Extractor, maxRetries int, baseDelay, capDelay time.Duration) *Retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if capDelay <= 0 {
		capDelay = 5 * time.Second
	}
	return &Retrier{
		extractor:  extractor,
		maxRetries: uint64(maxRetries),
		baseDelay:  baseDelay,
		capDelay:   capDelay,
	}
}

// Extract runs one logical extraction through the retry policy and reports
// the number of attempts made.
func (r *Retrier) Extract(ctx context.Context, req domain.Request) (*domain.Frame, int, error) {
	var frame *domain.Frame
	attempts := 0

	backoff := retry.WithCappedDuration(r.capDelay, retry.NewExponential(r.baseDelay))
	backoff = retry.WithMaxRetries(r.maxRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attempt := req
		attempt.Attempt = attempts

		f, err := r.extractor.Extract(ctx, attempt)
		if err != nil {
			if domain.Retryable(err) {
				logger.Warn.Printf("extraction attempt %d at t=%.3fs failed: %v", attempts, req.Position, err)
				return retry.RetryableError(err)
			}
			return err
		}
		frame = f
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return frame, attempts, nil
}

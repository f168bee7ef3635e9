package chainclient

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/vnavascues/substrate-watcher/internal/indexererr"
)

// RetryConfig tunes backoff for a chain client instance: exponential delay
// with full jitter, doubling from BaseDelay up to MaxDelay.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is base 500ms, cap 30s, full jitter, five attempts.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

// callWithRetry retries fn on Transient failures with full-jitter
// exponential backoff. Protocol errors get exactly one extra retry before
// becoming fatal to the caller. NotFound and Cancelled are never retried.
func callWithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	var lastErr error
	protocolRetriesLeft := 1

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch indexererr.ClassOf(err) {
		case indexererr.ClassCancelled, indexererr.ClassNotFound, indexererr.ClassFatal:
			return nil, err
		case indexererr.ClassProtocol:
			if protocolRetriesLeft <= 0 {
				return nil, err
			}
			protocolRetriesLeft--
		case indexererr.ClassTransient:
			// falls through to backoff below
		default:
			return nil, err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := fullJitterBackoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
		select {
		case <-ctx.Done():
			return nil, indexererr.New(indexererr.ClassCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// fullJitterBackoff implements base * 2^attempt capped at max, then draws a
// uniform random delay in [0, cap] -- "full jitter".
func fullJitterBackoff(attempt int, base, max time.Duration) time.Duration {
	cap := float64(base) * math.Pow(2, float64(attempt))
	if cap > float64(max) {
		cap = float64(max)
	}
	if cap <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(cap) + 1))
}

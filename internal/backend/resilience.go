package backend

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stagelink/chatbot/internal/models"
)

// RetryConfig holds retry parameters for backend calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultRetryConfig suits interactive chat turns: short backoff, few tries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 200 * time.Millisecond,
}

// retryWithBackoff executes fn with exponential backoff and jitter. Not-found
// results are terminal and never retried. Respects context cancellation.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil || errors.Is(lastErr, models.ErrNotFound) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
	}
	return lastErr
}

// newCircuitBreaker builds the breaker guarding the domain backend. It trips
// after a sustained failure ratio so a dead backend fails fast instead of
// stacking timeouts on every turn.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// A missing record is a valid answer, not a backend fault.
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
	})
}

// Package backoff implements jittered exponential backoff for the
// retriable external calls described in §5 and §7: embedding/vision
// model calls, search-backend writes, and cache fallback paths.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the growth factor applied after each retry.
	Multiplier float64
	// Jitter randomizes the delay to avoid thundering-herd retries.
	Jitter bool
}

// DefaultConfig matches §4.2's vision-analyzer backoff contract: up to
// 5 attempts, base 0.5s, capped at 8s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// IngestConfig matches §4.5.9's bulk-upsert backoff contract: fewer,
// longer-spaced retries against the search backend.
func IngestConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry calls fn until it succeeds, cfg.MaxRetries is exhausted, or
// ctx is cancelled. shouldRetry classifies whether a returned error is
// worth retrying; pass nil to retry on every non-nil error.
func Retry(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
		Timeout:           2 * time.Minute,
	}
}

// Retrying retries TransientErrors with exponential backoff and jitter.
// Fatal and unclassified errors are returned immediately.
type Retrying struct {
	inner  Client
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner. A nil logger uses slog.Default.
func NewRetrying(inner Client, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:  inner,
		cfg:    cfg,
		logger: logger.With("component", "llm"),
		sleep:  sleepContext,
	}
}

// Complete implements Client.
func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}

		if attempt < r.cfg.MaxAttempts {
			backoff := r.backoff(attempt)
			r.logger.Debug("request failed, retrying",
				"attempt", attempt,
				"max_attempts", r.cfg.MaxAttempts,
				"backoff", backoff,
				"error", err)

			if err := r.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	r.logger.Warn("request failed after retries", "attempts", r.cfg.MaxAttempts, "error", lastErr)
	return nil, lastErr
}

func (r *Retrying) attempt(ctx context.Context, req Request) (*Response, error) {
	if r.cfg.Timeout <= 0 {
		return r.inner.Complete(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.inner.Complete(attemptCtx, req)
}

// backoff computes exponential backoff with +/- 25% jitter.
func (r *Retrying) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= r.cfg.BackoffMultiplier
	}

	backoff := time.Duration(float64(r.cfg.BackoffBase) * multiplier)
	if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
		backoff = r.cfg.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

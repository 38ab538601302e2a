package channels

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/quill/internal/backoff"
)

// ReconnectConfig controls reconnection behavior.
type ReconnectConfig struct {
	MaxAttempts int
	Policy      backoff.Policy
}

// DefaultReconnectConfig returns a baseline reconnection config.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts: 5,
		Policy:      backoff.ReconnectPolicy(),
	}
}

// Reconnector runs a connect operation with backoff between attempts.
type Reconnector struct {
	Config ReconnectConfig
	Logger *slog.Logger
	// OnAttemptFailed is called after every failed attempt.
	OnAttemptFailed func(attempt int, err error)
}

// Run calls connect until it succeeds, ctx ends or the attempts are used
// up. Classified errors are retried only when their code is retryable, so
// authentication and config failures stop immediately.
func (r *Reconnector) Run(ctx context.Context, connect func(context.Context) error) error {
	if connect == nil {
		return errors.New("reconnector: connect func is nil")
	}
	cfg := r.Config
	defaults := DefaultReconnectConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Policy == (backoff.Policy{}) {
		cfg.Policy = defaults.Policy
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	_, err := backoff.Retry(ctx, cfg.Policy, cfg.MaxAttempts, retryableConnect, func(attempt int) (struct{}, error) {
		err := connect(ctx)
		if err != nil {
			logger.Warn("connect attempt failed", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)
			if r.OnAttemptFailed != nil {
				r.OnAttemptFailed(attempt, err)
			}
		}
		return struct{}{}, err
	})
	return err
}

func retryableConnect(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unclassified failures are assumed transient.
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Code.Retryable()
}

package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestPolicyDelayWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:     "first attempt with no jitter",
			policy:   Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:  1,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "third attempt quadruples",
			policy:   Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:  3,
			expected: 400 * time.Millisecond,
		},
		{
			name:     "clamped to max",
			policy:   Policy{Initial: time.Second, Max: 3 * time.Second, Factor: 2},
			attempt:  5,
			expected: 3 * time.Second,
		},
		{
			name:        "jitter adds proportionally",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.5},
			attempt:     1,
			randomValue: 1,
			expected:    150 * time.Millisecond,
		},
		{
			name:     "attempt zero treated as first",
			policy:   Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.DelayWithRand(tt.attempt, tt.randomValue); got != tt.expected {
				t.Errorf("DelayWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRetrySucceedsAfterRetries(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2}

	var attempts int32
	got, err := Retry(context.Background(), policy, 5, nil, func(attempt int) (int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return 0, errTemporary
		}
		return int(n), nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != 3 {
		t.Errorf("Retry() value = %d, want 3", got)
	}
}

func TestRetryAllAttemptsFail(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

	var attempts int32
	_, err := Retry(context.Background(), policy, 3, nil, func(int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", errTemporary
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(err, errTemporary) {
		t.Errorf("error = %v, want wrapped errTemporary", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("fn called %d times, want 3", n)
	}
}

type hintedError time.Duration

func (e hintedError) Error() string             { return "slow down" }
func (e hintedError) RetryDelay() time.Duration { return time.Duration(e) }

func TestRetryDelayHonorsHint(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"no hint", errTemporary, 100 * time.Millisecond},
		{"shorter hint", hintedError(10 * time.Millisecond), 100 * time.Millisecond},
		{"longer hint", hintedError(time.Second), time.Second},
		{"wrapped hint", fmt.Errorf("call: %w", hintedError(time.Second)), time.Second},
		{"capped", hintedError(time.Minute), 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryDelay(policy, 1, tt.err); got != tt.want {
				t.Errorf("retryDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	var attempts int32
	_, err := Retry(context.Background(), DefaultPolicy(), 5,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(int) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", permanent
		})

	if !errors.Is(err, permanent) || errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("error = %v, want bare permanent error", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("fn called %d times, want 1", n)
	}
}

func TestRetryContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts int32
	_, err := Retry(ctx, DefaultPolicy(), 5, nil, func(int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "ok", nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 0 {
		t.Errorf("fn called %d times, want 0", n)
	}
}

func TestRetryCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	policy := Policy{Initial: time.Second, Max: time.Second, Factor: 1}
	start := time.Now()
	_, err := Retry(ctx, policy, 3, nil, func(int) (string, error) {
		return "", errTemporary
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Retry() took too long: %v", elapsed)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}

	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Errorf("Sleep() = %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Sleep() returned too early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled ctx = %v", err)
	}
}

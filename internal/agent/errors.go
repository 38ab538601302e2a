package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDriver is returned when a Generator has no streaming driver.
	ErrNoDriver = errors.New("agent: no streaming driver configured")

	// ErrNoPlainGenerator is returned when plain generation is not configured.
	ErrNoPlainGenerator = errors.New("agent: no plain generator configured")

	// ErrEmptyPrompt is returned by GeneratePlain for a blank prompt.
	ErrEmptyPrompt = errors.New("agent: prompt is empty")
)

// ProviderError is a failed call to an LLM provider API.
type ProviderError struct {
	Provider  string
	Status    int
	Code      string
	Message   string
	RequestID string
	// RetryAfter is the server-requested wait before retrying, if any.
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient: rate limits,
// overload and server errors.
func (e *ProviderError) Retryable() bool {
	switch {
	case e.Status == 408, e.Status == 409, e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}

// RetryDelay lets backoff.Retry honor RetryAfter.
func (e *ProviderError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// IsRetryable reports whether err wraps a retryable *ProviderError.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return false
}

// LoopPhase names the orchestration step an error occurred in.
type LoopPhase string

const (
	PhaseInitial      LoopPhase = "initial"
	PhaseContinuation LoopPhase = "continuation"
	PhaseToolRound    LoopPhase = "tool_round"
	PhaseWrapUp       LoopPhase = "wrap_up"
	PhaseSafetyNet    LoopPhase = "safety_net"
)

// LoopError reports a driver failure with the loop position it happened at.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	return fmt.Sprintf("orchestration failed at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

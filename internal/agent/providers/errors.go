package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/quill/internal/agent"
)

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapAnthropicError maps SDK errors onto *agent.ProviderError. Context
// errors pass through untouched so callers can still match them.
func wrapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var perr *agent.ProviderError
	if errors.As(err, &perr) {
		return err
	}

	out := &agent.ProviderError{Provider: "anthropic", Cause: err}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		out.Status = apiErr.StatusCode
		out.RequestID = apiErr.RequestID
		if apiErr.Response != nil {
			out.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				out.Message = payload.Error.Message
				out.Code = payload.Error.Type
				if payload.RequestID != "" {
					out.RequestID = payload.RequestID
				}
			}
		}
		if out.Message == "" {
			out.Message = "anthropic request failed"
		}
		return out
	}

	out.Message = err.Error()
	return out
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// wrapOpenAIError maps go-openai errors onto *agent.ProviderError.
func wrapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &agent.ProviderError{Provider: "openai", Cause: err, Message: err.Error()}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.Status = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			out.Code = code
		}
		if apiErr.Type != "" && out.Code == "" {
			out.Code = apiErr.Type
		}
	case errors.As(err, &reqErr):
		out.Status = reqErr.HTTPStatusCode
	}
	return out
}

// wrapGeminiError classifies genai errors by their message, which carries
// the HTTP status and the canonical gRPC status name.
func wrapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &agent.ProviderError{Provider: "gemini", Cause: err, Message: err.Error()}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		out.Status = http.StatusUnauthorized
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		out.Status = http.StatusForbidden
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		out.Status = http.StatusNotFound
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		out.Status = http.StatusTooManyRequests
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		out.Status = http.StatusServiceUnavailable
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal"):
		out.Status = http.StatusInternalServerError
	}
	return out
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/quill/internal/observability"
)

const (
	// DefaultMaxContinuations caps server-side pause/resume cycles.
	DefaultMaxContinuations = 5
	// DefaultMaxToolRounds caps client-side tool rounds.
	DefaultMaxToolRounds = 5
)

// Follow-up instructions appended as user turns.
const (
	continuationNudge  = "Continue. You have %d tool turns remaining."
	continuationWrapUp = "You have used all of your tool turns. Answer now using only the information you have already gathered."
	toolLimitResult    = "Tool call limit reached. Do not call any more tools; answer the user now with what you have."
	safetyNetNudge     = "Please respond to the conversation now."
)

// Limits bounds the orchestration loop. A zero field takes its default; a
// negative one allows no rounds, so the first pause or tool request goes
// straight to wrap-up.
type Limits struct {
	MaxContinuations int
	MaxToolRounds    int
}

// DefaultLimits returns the default loop budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxContinuations: DefaultMaxContinuations,
		MaxToolRounds:    DefaultMaxToolRounds,
	}
}

func (l Limits) sanitize() Limits {
	return Limits{
		MaxContinuations: budget(l.MaxContinuations, DefaultMaxContinuations),
		MaxToolRounds:    budget(l.MaxToolRounds, DefaultMaxToolRounds),
	}
}

func budget(n, def int) int {
	switch {
	case n == 0:
		return def
	case n < 0:
		return 0
	}
	return n
}

// RunRequest is the input to one orchestration run.
type RunRequest struct {
	System SystemPrompt
	Turns  []Turn
	// Tools are the client-side schemas offered to the model.
	Tools []ToolSchema
	// Executor runs requested tools. When nil a tool request ends the loop.
	Executor ToolExecutor
	Status   StatusFunc
}

// Outcome is the result of a run.
type Outcome struct {
	Text          string
	FileIDs       []string
	Calls         int
	Continuations int
	ToolRounds    int
	WrapUp        bool
	SafetyNet     bool
	Usage         Usage
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Limits  Limits
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Controller drives the bounded continuation / tool-round loop around a Driver.
//
// Each iteration makes one driver call. A server pause advances the
// continuation counter, a tool request advances the tool-round counter, and
// anything else ends the loop. When a counter passes its limit the model gets
// exactly one wrap-up call. If the final text is empty one safety-net call
// follows. Total calls never exceed MaxContinuations+MaxToolRounds+2.
type Controller struct {
	driver  Driver
	limits  Limits
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewController creates a Controller.
func NewController(driver Driver, cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		driver:  driver,
		limits:  cfg.Limits.sanitize(),
		logger:  logger.With("component", "controller"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}
}

// Limits returns the controller's budgets.
func (c *Controller) Limits() Limits {
	return c.limits
}

// Run executes the loop. The only error is a driver failure, wrapped in a
// *LoopError; tool failures and exhausted budgets are not errors.
func (c *Controller) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	if c.driver == nil {
		return nil, ErrNoDriver
	}

	state := NewOrchestrationState(req.Turns)
	outcome := &Outcome{}

	phase := PhaseInitial
	for done := false; !done; {
		resp, err := c.call(ctx, req, state, phase)
		if err != nil {
			return nil, err
		}
		state.Observe(resp)

		switch {
		case resp.StopReason == StopServerPause:
			state.Continuations++
			if state.Continuations > c.limits.MaxContinuations {
				c.metrics.RecordOrchestration(observability.EventContinuationWrapUp)
				c.logger.InfoContext(ctx, "continuation budget exhausted, wrapping up",
					"continuations", state.Continuations)
				state.Append(assistantTurn(resp), UserTurn(TextBlock(continuationWrapUp)))
				if err := c.wrapUp(ctx, req, state); err != nil {
					return nil, err
				}
				outcome.WrapUp = true
				done = true
				break
			}
			c.metrics.RecordOrchestration(observability.EventContinuation)
			remaining := c.limits.MaxContinuations - state.Continuations
			state.Append(assistantTurn(resp), UserTurn(TextBlock(fmt.Sprintf(continuationNudge, remaining))))
			phase = PhaseContinuation

		case resp.StopReason == StopToolRequested && req.Executor != nil && len(resp.ToolCalls()) > 0:
			calls := resp.ToolCalls()
			state.ToolRounds++
			if state.ToolRounds > c.limits.MaxToolRounds {
				c.metrics.RecordOrchestration(observability.EventToolRoundWrapUp)
				c.logger.InfoContext(ctx, "tool round budget exhausted, wrapping up",
					"tool_rounds", state.ToolRounds, "pending_calls", len(calls))
				results := make([]ContentBlock, 0, len(calls))
				for _, call := range calls {
					results = append(results, ToolResultBlock(ToolResult{
						CallID:  call.ID,
						Content: toolLimitResult,
						IsError: true,
					}))
				}
				state.Append(assistantTurn(resp), UserTurn(results...))
				if err := c.wrapUp(ctx, req, state); err != nil {
					return nil, err
				}
				outcome.WrapUp = true
				done = true
				break
			}
			c.metrics.RecordOrchestration(observability.EventToolRound)
			results := c.executeTools(ctx, req, calls)
			state.Append(assistantTurn(resp), UserTurn(results...))
			phase = PhaseToolRound

		default:
			if resp.StopReason == StopToolRequested {
				if n := len(resp.ToolCalls()); n == 0 {
					c.logger.WarnContext(ctx, "tool request carried no tool calls, ending loop")
				} else {
					c.metrics.RecordOrchestration(observability.EventToolUseWithoutExecutor)
					c.logger.WarnContext(ctx, "model requested client tools but no executor is configured",
						"tool_calls", n)
				}
			}
			if state.Text == "" {
				if turn, ok := closingAssistantTurn(resp); ok {
					state.Append(turn)
				}
			}
			done = true
		}
	}

	if state.Text == "" {
		c.metrics.RecordOrchestration(observability.EventSafetyNet)
		c.logger.InfoContext(ctx, "empty reply after loop, issuing safety-net call", "calls", state.Calls)
		state.Append(UserTurn(TextBlock(safetyNetNudge)))
		resp, err := c.call(ctx, req, state, PhaseSafetyNet)
		if err != nil {
			return nil, err
		}
		state.Observe(resp)
		outcome.SafetyNet = true
	}

	outcome.Text = state.Text
	outcome.FileIDs = state.FileIDs
	outcome.Calls = state.Calls
	outcome.Continuations = state.Continuations
	outcome.ToolRounds = state.ToolRounds
	outcome.Usage = state.Usage
	return outcome, nil
}

// wrapUp issues the single post-budget call. Its response is kept for the
// safety net rather than appended, since the loop ends here.
func (c *Controller) wrapUp(ctx context.Context, req RunRequest, state *OrchestrationState) error {
	resp, err := c.call(ctx, req, state, PhaseWrapUp)
	if err != nil {
		return err
	}
	state.Observe(resp)
	if state.Text == "" {
		if turn, ok := closingAssistantTurn(resp); ok {
			state.Append(turn)
		}
	}
	return nil
}

func (c *Controller) call(ctx context.Context, req RunRequest, state *OrchestrationState, phase LoopPhase) (*StreamResponse, error) {
	iteration := state.Calls + 1
	ctx, span := c.tracer.TraceLLMRequest(ctx, "stream", string(phase))
	defer span.End()

	resp, err := c.driver.Stream(ctx, &StreamRequest{
		System: req.System,
		Turns:  state.Turns,
		Tools:  req.Tools,
		Status: req.Status,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, &LoopError{Phase: phase, Iteration: iteration, Cause: err}
	}

	c.logger.DebugContext(ctx, "model call finished",
		"phase", phase,
		"iteration", iteration,
		"stop_reason", resp.RawStopReason,
		"blocks", len(resp.Content),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

// executeTools runs every call of one round in order and returns the results.
func (c *Controller) executeTools(ctx context.Context, req RunRequest, calls []ToolCall) []ContentBlock {
	results := make([]ContentBlock, 0, len(calls))
	for _, call := range calls {
		req.Status.Notify(ctx, req.Executor.StatusText(call))

		toolCtx, span := c.tracer.TraceToolExecution(ctx, call.Name)
		start := time.Now()
		content := req.Executor.Execute(toolCtx, call)
		span.End()

		c.logger.DebugContext(ctx, "tool executed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", time.Since(start),
		)
		results = append(results, ToolResultBlock(ToolResult{CallID: call.ID, Content: content}))
	}
	return results
}

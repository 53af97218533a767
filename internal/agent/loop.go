// Package agent implements the reasoning loop: it hands an event to the
// model, runs the tools the model asks for, feeds the results back and
// repeats until the model stops asking.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/vercade/internal/events"
	"github.com/nugget/vercade/internal/llm"
	"github.com/nugget/vercade/internal/prompts"
	"github.com/nugget/vercade/internal/tools"
	"github.com/nugget/vercade/internal/usage"
)

// ToolCatalog is the part of *tools.Registry the loop uses.
type ToolCatalog interface {
	Has(name string) bool
	Schemas() []llm.ToolSchema
	Execute(ctx context.Context, name, rawArgs string) (string, error)
}

// UsageRecorder receives token usage per round and a summary per
// invocation. *usage.Store implements it.
type UsageRecorder interface {
	RecordRound(ctx context.Context, rec usage.Record) error
	RecordInvocation(ctx context.Context, inv usage.Invocation) error
}

// Config configures a Loop. LLM, Tools, Identity and Model are
// required.
type Config struct {
	Identity string
	Model    string
	Options  llm.Options

	// MaxRounds caps model rounds per invocation. Zero disables the cap.
	MaxRounds int
	// Timeout bounds a whole invocation. Zero disables it.
	Timeout time.Duration

	LLM    llm.Client
	Tools  ToolCatalog
	Usage  UsageRecorder
	Events *events.Bus
	Logger *slog.Logger

	// Now overrides the clock shown to the model.
	Now func() time.Time
}

// Loop runs invocations. It is safe for concurrent use; invocations
// share nothing but the cached tool schemas.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	schemasOnce sync.Once
	schemas     []llm.ToolSchema
}

// NewLoop returns a Loop for cfg.
func NewLoop(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "agent"),
	}
}

// toolSchemas snapshots the catalog on first use. Later registrations
// are not seen by the model.
func (l *Loop) toolSchemas() []llm.ToolSchema {
	l.schemasOnce.Do(func() {
		l.schemas = l.cfg.Tools.Schemas()
	})
	return l.schemas
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// invocation is the state of one Invoke call.
type invocation struct {
	id        string
	origin    Origin
	logger    *slog.Logger
	rounds    int
	toolCalls int
}

// Invoke runs one invocation for event.
//
// It returns nil when the model stops calling tools after having called
// at least one. It returns *NoToolCallsError if the first round has no
// tool calls, *tools.ErrToolUnavailable if the model names a tool that
// does not exist (nothing from that round runs), *RoundLimitError when
// MaxRounds is reached, and a wrapped ctx.Err() when cancelled.
func (l *Loop) Invoke(ctx context.Context, event string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrEmptyEvent
	}

	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	inv := &invocation{id: newRequestID(), origin: OriginFrom(ctx)}
	inv.logger = l.logger.With("request_id", inv.id, "trigger", inv.origin.Trigger)
	if inv.origin.Conversation != "" {
		inv.logger = inv.logger.With("conversation", inv.origin.Conversation)
	}

	started := time.Now()
	l.cfg.Events.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id":   inv.id,
		"trigger":      inv.origin.Trigger,
		"conversation": inv.origin.Conversation,
	})
	inv.logger.Info("invocation started", "model", l.cfg.Model)

	err := l.run(ctx, inv, event)

	elapsed := time.Since(started)
	outcome := outcomeOf(err)
	l.finish(ctx, inv, started, elapsed, outcome, err)
	return err
}

func (l *Loop) run(ctx context.Context, inv *invocation, event string) error {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: l.cfg.Identity},
		{Role: llm.RoleUser, Content: prompts.UserMessage(event, l.cfg.Now())},
	}
	schemas := l.toolSchemas()

	for {
		if l.cfg.MaxRounds > 0 && inv.rounds >= l.cfg.MaxRounds {
			return &RoundLimitError{Rounds: inv.rounds}
		}
		inv.rounds++

		resp, err := l.chat(ctx, inv, messages, schemas)
		if err != nil {
			return err
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			if inv.toolCalls == 0 {
				return &NoToolCallsError{Content: resp.Message.Content}
			}
			return nil
		}

		for _, call := range calls {
			if !l.cfg.Tools.Has(call.Function.Name) {
				return &tools.ErrToolUnavailable{ToolName: call.Function.Name}
			}
		}

		results := l.dispatch(ctx, inv, calls)
		inv.toolCalls += len(calls)

		assistant := resp.Message
		assistant.Role = llm.RoleAssistant
		messages = append(messages, assistant)
		for i, call := range calls {
			messages = append(messages, llm.ToolResult(call, results[i]))
		}
	}
}

// chat performs one model round and records its usage.
func (l *Loop) chat(ctx context.Context, inv *invocation, messages []llm.Message, schemas []llm.ToolSchema) (*llm.ChatResponse, error) {
	l.cfg.Events.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"request_id": inv.id,
		"round":      inv.rounds,
		"model":      l.cfg.Model,
	})

	start := time.Now()
	resp, err := l.cfg.LLM.Chat(ctx, l.cfg.Model, messages, schemas, l.cfg.Options)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("round %d: %w", inv.rounds, ctxErr)
		}
		return nil, fmt.Errorf("round %d: model call: %w", inv.rounds, err)
	}

	names := make([]string, len(resp.Message.ToolCalls))
	for i, c := range resp.Message.ToolCalls {
		names[i] = c.Function.Name
	}
	inv.logger.Debug("model responded",
		"round", inv.rounds,
		"tool_calls", names,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if resp.Message.Content != "" {
		inv.logger.Debug("model thought", "round", inv.rounds, "content", resp.Message.Content)
	}

	l.cfg.Events.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"request_id":    inv.id,
		"round":         inv.rounds,
		"model":         l.cfg.Model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"tool_calls":    len(names),
	})

	if l.cfg.Usage != nil {
		provider, _ := llm.SplitModel(l.cfg.Model)
		rec := usage.Record{
			RequestID:    inv.id,
			Trigger:      inv.origin.Trigger,
			Conversation: inv.origin.Conversation,
			Model:        l.cfg.Model,
			Provider:     provider,
			Round:        inv.rounds,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
		if err := l.cfg.Usage.RecordRound(context.WithoutCancel(ctx), rec); err != nil {
			inv.logger.Warn("failed to record usage", "error", err)
		}
	}
	return resp, nil
}

// dispatch runs every call concurrently and returns the results in call
// order.
func (l *Loop) dispatch(ctx context.Context, inv *invocation, calls []llm.ToolCall) []string {
	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.runTool(ctx, inv, call)
		}()
	}
	wg.Wait()
	return results
}

func (l *Loop) runTool(ctx context.Context, inv *invocation, call llm.ToolCall) string {
	name := call.Function.Name
	l.cfg.Events.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": inv.id,
		"round":      inv.rounds,
		"tool":       name,
		"call_id":    call.ID,
	})
	inv.logger.Info("calling tool", "tool", name, "arguments", call.Function.Arguments)

	start := time.Now()
	result, err := l.cfg.Tools.Execute(ctx, name, call.Function.Arguments)
	if err != nil {
		result = tools.ErrorResult(name, err)
	}
	elapsed := time.Since(start)

	inv.logger.Debug("tool returned", "tool", name, "elapsed", elapsed.Round(time.Millisecond), "result", result)
	l.cfg.Events.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  inv.id,
		"round":       inv.rounds,
		"tool":        name,
		"call_id":     call.ID,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result
}

// Outcome labels recorded for finished invocations.
const (
	OutcomeOK          = "ok"
	OutcomeNoToolCalls = "no_tool_calls"
	OutcomeRoundLimit  = "round_limit"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeCancelled   = "cancelled"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

func outcomeOf(err error) string {
	var noTools *NoToolCallsError
	var limit *RoundLimitError
	var unknown *tools.ErrToolUnavailable
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &noTools):
		return OutcomeNoToolCalls
	case errors.As(err, &limit):
		return OutcomeRoundLimit
	case errors.As(err, &unknown):
		return OutcomeUnknownTool
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

func (l *Loop) finish(ctx context.Context, inv *invocation, started time.Time, elapsed time.Duration, outcome string, err error) {
	attrs := []any{
		"rounds", inv.rounds,
		"tool_calls", inv.toolCalls,
		"outcome", outcome,
		"elapsed", elapsed.Round(time.Millisecond),
	}
	switch outcome {
	case OutcomeOK:
		inv.logger.Info("invocation complete", attrs...)
	case OutcomeCancelled:
		inv.logger.Debug("invocation cancelled", attrs...)
	default:
		inv.logger.Warn("invocation failed", append(attrs, "error", err)...)
	}

	l.cfg.Events.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": inv.id,
		"rounds":     inv.rounds,
		"tool_calls": inv.toolCalls,
		"outcome":    outcome,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	if l.cfg.Usage == nil {
		return
	}
	rec := usage.Invocation{
		RequestID:    inv.id,
		Trigger:      inv.origin.Trigger,
		Conversation: inv.origin.Conversation,
		Model:        l.cfg.Model,
		StartedAt:    started,
		Duration:     elapsed,
		Rounds:       inv.rounds,
		ToolCalls:    inv.toolCalls,
		Outcome:      outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rerr := l.cfg.Usage.RecordInvocation(context.WithoutCancel(ctx), rec); rerr != nil {
		inv.logger.Warn("failed to record invocation", "error", rerr)
	}
}

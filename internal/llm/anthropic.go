package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 8192

// thinkingBudgets maps reasoning effort to an extended thinking budget.
var thinkingBudgets = map[string]int64{
	"low":    1024,
	"medium": 4096,
	"high":   16384,
}

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client authenticated with apiKey. A nil
// httpClient uses the SDK default.
func NewAnthropicClient(apiKey string, httpClient *http.Client, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger.With("provider", "anthropic"),
	}
}

// Chat implements Client.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolSchema, opts Options) (*ChatResponse, error) {
	params := anthropicParams(model, messages, tools, opts)

	c.logger.Debug("sending request",
		"model", model,
		"messages", len(params.Messages),
		"tools", len(params.Tools),
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := fromAnthropic(resp)
	c.logger.Debug("response received",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"tool_calls", len(out.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", out.Message.Content)
	return out, nil
}

// Ping lists one model to verify the key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("anthropic: %w", err)
	}
	return nil
}

func anthropicParams(model string, messages []Message, tools []ToolSchema, opts Options) anthropic.MessageNewParams {
	system, converted := toAnthropic(messages)

	maxTokens := int64(anthropicDefaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  converted,
		System:    system,
	}

	if budget, ok := thinkingBudgets[opts.ReasoningEffort]; ok {
		// The budget must stay below max_tokens, and thinking requires the
		// default temperature.
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + anthropicDefaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
				Required:   requiredFields(t.Parameters),
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// toAnthropic converts messages to the Messages API shape. System
// messages move to the system prompt, and consecutive tool results are
// grouped into one user turn as the API expects for parallel tool use.
func toAnthropic(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			for _, r := range m.Reasoning {
				if r.Redacted != "" {
					blocks = append(blocks, anthropic.NewRedactedThinkingBlock(r.Redacted))
				} else {
					blocks = append(blocks, anthropic.NewThinkingBlock(r.Signature, r.Text))
				}
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, argumentsObject(tc.Function.Arguments), tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return system, out
}

func fromAnthropic(resp *anthropic.Message) *ChatResponse {
	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "thinking":
			tb := block.AsThinking()
			msg.Reasoning = append(msg.Reasoning, Reasoning{Text: tb.Thinking, Signature: tb.Signature})
		case "redacted_thinking":
			msg.Reasoning = append(msg.Reasoning, Reasoning{Redacted: block.AsRedactedThinking().Data})
		case "tool_use":
			tu := block.AsToolUse()
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:       tu.ID,
				Function: FunctionCall{Name: tu.Name, Arguments: string(tu.Input)},
			})
		}
	}
	return &ChatResponse{
		Model:        string(resp.Model),
		Message:      msg,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		StopReason:   string(resp.StopReason),
	}
}

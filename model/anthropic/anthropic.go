// Package anthropic provides a model wrapper for the Anthropic Messages API
// with streaming tool-use reconstruction support.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}

		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}

		if !req.PlainText && len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		var err error
		if req.Stream {
			err = m.handleStreaming(ctx, params, out)
		} else {
			err = m.handleNonStreaming(ctx, params, out)
		}

		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// handleStreaming maps content-block events to fragments. The slot of a
// tool_use block is its ordinal among the tool_use blocks of the message.
func (m *Model) handleStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		slots       = map[int64]int{}
		inputTokens int
		finish      string
		usage       *model.TokenUsage
	)

	emit := func(f model.Fragment) error {
		return send(ctx, out, model.Response{Partial: true, Fragment: f})
	}

	for stream.Next() {
		var err error

		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			inputTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			slot := len(slots)
			slots[ev.Index] = slot
			err = emit(model.Fragment{ToolCall: &model.ToolCallDelta{
				Index: slot,
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}})
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				err = emit(model.Fragment{Content: d.Text})
			case anthropic.ThinkingDelta:
				err = emit(model.Fragment{Reasoning: d.Thinking})
			case anthropic.InputJSONDelta:
				slot, ok := slots[ev.Index]
				if !ok {
					continue
				}
				err = emit(model.Fragment{ToolCall: &model.ToolCallDelta{Index: slot, Arguments: d.PartialJSON}})
			}
		case anthropic.MessageDeltaEvent:
			finish = string(ev.Delta.StopReason)
			usage = &model.TokenUsage{
				PromptTokens:     inputTokens,
				CompletionTokens: int(ev.Usage.OutputTokens),
				TotalTokens:      inputTokens + int(ev.Usage.OutputTokens),
			}
			err = emit(model.Fragment{Usage: usage})
		}

		if err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return errors.Wrap(err, "anthropic streaming error")
	}

	return send(ctx, out, model.Response{FinishReason: finishReason(finish), Usage: usage})
}

func (m *Model) handleNonStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return errors.Wrap(err, "anthropic api error")
	}

	var msg model.Message

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "thinking":
			msg.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			tu := block.AsToolUse()
			args := ""
			if tu.Input != nil {
				if b, err := json.Marshal(tu.Input); err == nil {
					args = string(b)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	return send(ctx, out, model.Response{
		ID:           resp.ID,
		Message:      msg,
		FinishReason: finishReason(string(resp.StopReason)),
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	})
}

func finishReason(stop string) string {
	switch stop {
	case "":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return stop
	}
}

// buildMessages converts the transcript to Anthropic messages. Consecutive
// turns mapping to the same role are merged into one message, so all
// observations of an invocation set travel as one user message of
// tool_result blocks.
func buildMessages(req model.Request) []anthropic.MessageParam {
	var (
		messages []anthropic.MessageParam
		role     anthropic.MessageParamRole
	)

	add := func(r anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if len(messages) > 0 && role == r {
			last := &messages[len(messages)-1]
			last.Content = append(last.Content, blocks...)
			return
		}
		role = r
		if r == anthropic.MessageParamRoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, t := range req.Transcript {
		switch t.Role {
		case core.RoleUser:
			if t.Content != "" {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(t.Content))
			}
		case core.RoleAssistant:
			if req.PlainText {
				if text := model.AssistantText(t); text != "" {
					add(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(text))
				}
				continue
			}
			var blocks []anthropic.ContentBlockParamUnion
			if t.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			for _, inv := range t.Invocations {
				blocks = append(blocks, anthropic.NewToolUseBlock(inv.ID, toolInput(inv.RawArguments), inv.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		case core.RoleObservation:
			if req.PlainText || t.Result == nil {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(model.RenderObservation(t)))
				continue
			}
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(t.Result.RequestID, t.Result.Output, t.Result.IsError()))
		}
	}

	return messages
}

func toolInput(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var input any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return raw
	}
	return input
}

// buildTools converts tool definitions to the Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" && out[i].OfTool != nil {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
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
	default:
		return nil
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- r:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:              string(m.opts.Model),
		Provider:          "anthropic",
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

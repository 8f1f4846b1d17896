// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (streaming, parallel tool calls, usage chunks and the
// reasoning_content extension of compatible servers). Tool-call deltas are
// forwarded one fragment per delta; reassembly happens in the loop.
package openai

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/respjson"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

const reasoningField = "reasoning_content"

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// ParallelToolCalls allows the backend to request several invocations per turn.
	ParallelToolCalls bool
	// IncludeUsage requests a trailing usage chunk when streaming.
	IncludeUsage bool
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
// (configured from OPENAI_API_KEY / OPENAI_BASE_URL).
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		ParallelToolCalls:   true,
		IncludeUsage:        true,
	}
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

		params := m.buildParams(req, buildMessages(req))

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

// buildMessages converts the transcript into OpenAI chat messages.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)

	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, t := range req.Transcript {
		switch t.Role {
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case core.RoleAssistant:
			if req.PlainText || !t.HasInvocations() {
				messages = append(messages, openai.AssistantMessage(model.AssistantText(t)))
				continue
			}

			msg := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCallParams(t.Invocations)}
			if t.Content != "" {
				msg.Content.OfString = openai.String(t.Content)
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case core.RoleObservation:
			if req.PlainText || t.Result == nil {
				messages = append(messages, openai.UserMessage(model.RenderObservation(t)))
				continue
			}

			messages = append(messages, openai.ToolMessage(t.Result.Output, t.Result.RequestID))
		}
	}

	return messages
}

func toolCallParams(invs []core.InvocationRequest) []openai.ChatCompletionMessageToolCallParam {
	calls := make([]openai.ChatCompletionMessageToolCallParam, len(invs))
	for i, inv := range invs {
		calls[i] = openai.ChatCompletionMessageToolCallParam{
			ID: inv.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      inv.Name,
				Arguments: inv.RawArguments,
			},
		}
	}
	return calls
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if req.Stream && m.opts.IncludeUsage {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	if req.PlainText || len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}

	params.Tools = tools
	params.ParallelToolCalls = openai.Bool(m.opts.ParallelToolCalls)

	return params
}

// handleStreaming forwards every delta as one fragment and closes with a
// final response carrying the finish reason.
func (m *Model) handleStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		finish string
		usage  *model.TokenUsage
	)

	for stream.Next() {
		ck := stream.Current()

		if ck.Usage.TotalTokens > 0 {
			usage = convertUsage(ck.Usage)
			if err := send(ctx, out, model.Response{ID: ck.ID, Partial: true, Fragment: model.Fragment{Usage: usage}}); err != nil {
				return err
			}
		}

		for _, ch := range ck.Choices {
			if ch.Index != 0 {
				continue
			}

			for _, f := range fragmentsFromDelta(ch.Delta) {
				if err := send(ctx, out, model.Response{ID: ck.ID, Partial: true, Fragment: f}); err != nil {
					return err
				}
			}

			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}

	if err := stream.Err(); err != nil {
		return errors.Wrap(err, "openai streaming error")
	}

	return send(ctx, out, model.Response{FinishReason: finish, Usage: usage})
}

func fragmentsFromDelta(d openai.ChatCompletionChunkChoiceDelta) []model.Fragment {
	var frags []model.Fragment

	if r := extraString(d.JSON.ExtraFields, reasoningField); r != "" {
		frags = append(frags, model.Fragment{Reasoning: r})
	}

	if d.Content != "" {
		frags = append(frags, model.Fragment{Content: d.Content})
	}

	for _, tc := range d.ToolCalls {
		frags = append(frags, model.Fragment{ToolCall: &model.ToolCallDelta{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}

	return frags
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return errors.Wrap(err, "openai api error")
	}

	if len(resp.Choices) == 0 {
		return errors.Wrap(core.ErrEmptyResponse, "no choices returned")
	}

	ch0 := resp.Choices[0]

	msg := model.Message{
		Content:   ch0.Message.Content,
		Reasoning: extraString(ch0.Message.JSON.ExtraFields, reasoningField),
	}

	for _, tc := range ch0.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return send(ctx, out, model.Response{
		ID:           resp.ID,
		Message:      msg,
		FinishReason: ch0.FinishReason,
		Usage:        convertUsage(resp.Usage),
	})
}

// extraString decodes a string valued field the SDK did not model.
func extraString(fields map[string]respjson.Field, key string) string {
	f, ok := fields[key]
	if !ok || !f.Valid() {
		return ""
	}

	raw := f.Raw()
	if raw == "" || raw == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}

	return s
}

func convertUsage(u openai.CompletionUsage) *model.TokenUsage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
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

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:              m.opts.Model,
		Provider:          "openai",
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

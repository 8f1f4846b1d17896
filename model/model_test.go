package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()

	var out []Response
	for r := range respCh {
		out = append(out, r)
	}

	return out, <-errCh
}

func TestSplitMessage(t *testing.T) {
	msg := Message{
		Reasoning: "think",
		Content:   "hello",
		ToolCalls: []ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`}},
	}

	frags := SplitMessage(msg, 2)

	var reasoning, content, id, name, args strings.Builder
	for _, f := range frags {
		reasoning.WriteString(f.Reasoning)
		content.WriteString(f.Content)
		if f.ToolCall != nil {
			assert.Equal(t, 0, f.ToolCall.Index)
			id.WriteString(f.ToolCall.ID)
			name.WriteString(f.ToolCall.Name)
			args.WriteString(f.ToolCall.Arguments)
		}
		assert.LessOrEqual(t, len(f.Content), 2)
	}

	assert.Equal(t, "think", reasoning.String())
	assert.Equal(t, "hello", content.String())
	assert.Equal(t, "call_1", id.String())
	assert.Equal(t, "lookup", name.String())
	assert.Equal(t, `{"q":"x"}`, args.String())
}

func TestSplitMessage_WholeFields(t *testing.T) {
	frags := SplitMessage(Message{Content: "hello"}, 0)
	require.Len(t, frags, 1)
	assert.Equal(t, "hello", frags[0].Content)
}

func TestScriptedModel_NonStreaming(t *testing.T) {
	m := NewScriptedModelFromMessages(Message{Content: "hi"})

	respCh, errCh := m.Generate(context.Background(), Request{})
	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Partial)
	assert.Equal(t, "hi", out[0].Message.Content)
	assert.Equal(t, "stop", out[0].FinishReason)
	assert.Equal(t, 1, m.Calls())
}

func TestScriptedModel_Streaming(t *testing.T) {
	m := NewScriptedModel([]ScriptStep{{Message: Message{Content: "hello world"}}}, func(o *ScriptedOptions) {
		o.ChunkSize = 4
	})

	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})
	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)

	var sb strings.Builder
	for _, r := range out[:len(out)-1] {
		require.True(t, r.Partial)
		sb.WriteString(r.Fragment.Content)
	}
	assert.Equal(t, "hello world", sb.String())
	assert.False(t, out[len(out)-1].Partial)
}

func TestScriptedModel_ErrorsAndExhaustion(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel([]ScriptStep{{Err: boom}})

	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := collect(t, respCh, errCh)
	require.ErrorIs(t, err, boom)

	respCh, errCh = m.Generate(context.Background(), Request{})
	_, err = collect(t, respCh, errCh)
	require.ErrorIs(t, err, ErrScriptExhausted)
	assert.Equal(t, 0, m.Remaining())
	assert.Len(t, m.Requests(), 2)
}

func TestScriptedModel_Cancelled(t *testing.T) {
	m := NewScriptedModelFromMessages(Message{Content: strings.Repeat("x", 300)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	respCh, errCh := m.Generate(ctx, Request{Stream: true})
	for range respCh {
	}
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

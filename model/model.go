package model

import (
	"context"

	"github.com/hupe1980/agentloop/core"
)

// ToolDefinition declaratively exposes a callable capability to the backend.
// Parameters is a JSON Schema object and is passed through opaquely.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized backend input produced by the reasoning step.
type Request struct {
	Instructions string           `json:"instructions"`
	Transcript   []core.Turn      `json:"transcript"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`

	// PlainText asks the backend to render invocations and observations as
	// text instead of native tool-call messages. Used by the free-text
	// (ReAct / CodeAct) protocols where the backend is not given tools.
	PlainText bool `json:"plain_text,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallDelta is a partial invocation request. Index is the slot within the
// current turn; ID, Name and Arguments are substrings to be concatenated with
// earlier deltas for the same slot.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Fragment is one streamed unit of backend output. Several fields may be set
// on the same fragment.
type Fragment struct {
	ToolCall  *ToolCallDelta `json:"tool_call,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Content   string         `json:"content,omitempty"`
	Usage     *TokenUsage    `json:"usage,omitempty"`
}

// IsEmpty reports whether the fragment carries no data.
func (f Fragment) IsEmpty() bool {
	return f.ToolCall == nil && f.Reasoning == "" && f.Content == "" && f.Usage == nil
}

// ToolCall is a complete invocation request as returned by a non-streaming backend.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a complete (non-streamed) backend reply.
type Message struct {
	Content   string     `json:"content,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// IsEmpty reports whether the message carries no data.
func (m Message) IsEmpty() bool {
	return m.Content == "" && m.Reasoning == "" && len(m.ToolCalls) == 0
}

// Response is emitted by Model.Generate.
//
// Streaming backends emit Partial responses carrying a Fragment followed by
// one final non-partial response carrying the FinishReason (and optionally
// Usage). Non-streaming backends emit a single non-partial response carrying
// the complete Message.
type Response struct {
	ID           string      `json:"id,omitempty"`
	Partial      bool        `json:"partial"`
	Fragment     Fragment    `json:"fragment,omitzero"`
	Message      Message     `json:"message,omitzero"`
	FinishReason string      `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools     bool   `json:"supports_tools"`
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Model is the minimal interface required by the loop to drive generation.
// Both channels are closed when generation ends; at most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

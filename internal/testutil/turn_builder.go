package testutil

import (
	"time"

	"github.com/hupe1980/agentloop/core"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := NewTurnBuilder().Assistant("").Invoke("call_1", "get_closing_price", `{"ticker":"A"}`).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type TurnBuilder struct {
	turn core.Turn
}

// NewTurnBuilder creates a builder for a user turn with a generated id.
func NewTurnBuilder() *TurnBuilder {
	return &TurnBuilder{turn: core.Turn{ID: core.NewID(), Role: core.RoleUser, Timestamp: time.Now().UTC()}}
}

// ID overrides the generated turn id (chainable).
func (b *TurnBuilder) ID(id string) *TurnBuilder { b.turn.ID = id; return b }

// User sets role user and the content (chainable).
func (b *TurnBuilder) User(text string) *TurnBuilder {
	b.turn.Role = core.RoleUser
	b.turn.Content = text
	return b
}

// Assistant sets role assistant and the content (chainable).
func (b *TurnBuilder) Assistant(text string) *TurnBuilder {
	b.turn.Role = core.RoleAssistant
	b.turn.Content = text
	return b
}

// Reasoning sets the reasoning text (chainable).
func (b *TurnBuilder) Reasoning(text string) *TurnBuilder { b.turn.Reasoning = text; return b }

// Invoke appends an invocation in the next slot and sets role assistant (chainable).
func (b *TurnBuilder) Invoke(id, name, args string) *TurnBuilder {
	b.turn.Role = core.RoleAssistant
	b.turn.Invocations = append(b.turn.Invocations, core.InvocationRequest{
		Slot:         len(b.turn.Invocations),
		ID:           id,
		Name:         name,
		RawArguments: args,
	})
	return b
}

// Observe sets role observation with a result for requestID (chainable).
func (b *TurnBuilder) Observe(requestID, name, output string, kind core.ResultKind) *TurnBuilder {
	b.turn.Role = core.RoleObservation
	b.turn.Content = output
	b.turn.Result = &core.InvocationResult{RequestID: requestID, Name: name, Output: output, Kind: kind}
	return b
}

// Build returns the constructed turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn }

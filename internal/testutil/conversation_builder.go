package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
)

// ConversationBuilder helps construct valid conversations with fluent
// chaining for tests.
// Example:
//
//	conv := NewConversationBuilder().
//		User("compare A and B").
//		Invoke(Call("c1", "get_closing_price", `{"ticker":"A"}`)).
//		Observe("c1", "67.92").
//		Assistant("A").
//		Build(t)
type ConversationBuilder struct {
	turns []core.Turn
	names map[string]string
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder {
	return &ConversationBuilder{names: map[string]string{}}
}

// User appends a user turn (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.turns = append(b.turns, core.NewUserTurn(text))
	return b
}

// Assistant appends a final assistant turn (chainable).
func (b *ConversationBuilder) Assistant(text string) *ConversationBuilder {
	b.turns = append(b.turns, core.NewAssistantTurn(text, "", nil))
	return b
}

// Call builds an invocation request; slots are assigned by Invoke.
func Call(id, name, args string) core.InvocationRequest {
	return core.InvocationRequest{ID: id, Name: name, RawArguments: args}
}

// Invoke appends an assistant turn requesting calls in slot order (chainable).
func (b *ConversationBuilder) Invoke(calls ...core.InvocationRequest) *ConversationBuilder {
	invs := make([]core.InvocationRequest, len(calls))
	for i, c := range calls {
		c.Slot = i
		invs[i] = c
		b.names[c.ID] = c.Name
	}
	b.turns = append(b.turns, core.NewAssistantTurn("", "", invs))
	return b
}

// Observe appends a successful observation for requestID (chainable).
func (b *ConversationBuilder) Observe(requestID, output string) *ConversationBuilder {
	return b.ObserveKind(requestID, output, core.KindOK)
}

// ObserveKind appends an observation of the given kind (chainable).
func (b *ConversationBuilder) ObserveKind(requestID, output string, kind core.ResultKind) *ConversationBuilder {
	b.turns = append(b.turns, core.NewObservationTurn(core.InvocationResult{
		RequestID: requestID,
		Name:      b.names[requestID],
		Output:    output,
		Kind:      kind,
	}))
	return b
}

// Turns returns the turns appended so far.
func (b *ConversationBuilder) Turns() []core.Turn { return append([]core.Turn(nil), b.turns...) }

// Build appends all turns to a new conversation, failing the test on an
// invariant violation.
func (b *ConversationBuilder) Build(t testing.TB) *core.Conversation {
	t.Helper()

	conv := core.NewConversation()
	require.NoError(t, conv.Append(b.turns...))

	return conv
}

package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks input supplied by the caller.
	RoleUser Role = "user"
	// RoleAssistant marks output produced by the reasoning backend.
	RoleAssistant Role = "assistant"
	// RoleObservation marks the recorded result of one capability invocation.
	RoleObservation Role = "observation"
)

// Turn is one entry of a Conversation. After it has been appended it must be
// treated as immutable; Conversation hands out copies to enforce this.
//
// Assistant turns may carry Invocations (the structured calls requested in that
// reasoning turn) and Reasoning (the accumulated "thinking" text of streaming
// backends). Observation turns always carry a Result whose RequestID matches
// one of the preceding assistant turn's invocations.
type Turn struct {
	ID          string              `json:"id"`
	Role        Role                `json:"role"`
	Content     string              `json:"content,omitempty"`
	Reasoning   string              `json:"reasoning,omitempty"`
	Invocations []InvocationRequest `json:"invocations,omitempty"`
	Result      *InvocationResult   `json:"result,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewUserTurn creates a user-authored text turn.
func NewUserTurn(content string) Turn {
	return Turn{ID: NewID(), Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantTurn creates an assistant turn. Invocations are copied so later
// mutation of the caller's slice does not leak into the transcript.
func NewAssistantTurn(content, reasoning string, invocations []InvocationRequest) Turn {
	t := Turn{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   content,
		Reasoning: reasoning,
		Timestamp: time.Now().UTC(),
	}
	if len(invocations) > 0 {
		t.Invocations = append([]InvocationRequest(nil), invocations...)
	}
	return t
}

// NewObservationTurn records the outcome of a single invocation.
func NewObservationTurn(result InvocationResult) Turn {
	r := result
	return Turn{
		ID:        NewID(),
		Role:      RoleObservation,
		Content:   result.Output,
		Result:    &r,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for turns, runs and generated call ids.
func NewID() string { return uuid.NewString() }

// HasInvocations reports whether the turn requested at least one capability call.
func (t Turn) HasInvocations() bool { return len(t.Invocations) > 0 }

// IsFinal reports whether the turn is an assistant answer with no pending
// invocations, i.e. a turn that terminates a loop.
func (t Turn) IsFinal() bool { return t.Role == RoleAssistant && !t.HasInvocations() }

// clone returns a deep copy so callers cannot mutate transcript internals.
func (t Turn) clone() Turn {
	c := t
	if t.Invocations != nil {
		c.Invocations = append([]InvocationRequest(nil), t.Invocations...)
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}

// CloneTurns deep-copies turns.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.clone()
	}
	return out
}

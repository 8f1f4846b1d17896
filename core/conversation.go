package core

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Conversation is the ordered, append-only transcript of one run.
//
// Contract:
//   - Append is the only mutation; no turn is ever edited or removed
//   - Observation turns follow the assistant turn whose invocations they
//     answer, one per invocation, in slot order, matched by RequestID
//   - No user or assistant turn may be appended while invocations are pending
//   - Accessors return copies so callers cannot mutate internal state
//
// A Conversation is owned by exactly one run and is not safe for concurrent
// mutation. Use Clone to hand a snapshot to another goroutine.
type Conversation struct {
	turns    []Turn
	open     []InvocationRequest // invocations of the latest assistant turn
	observed int                 // observations appended for open
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation { return &Conversation{} }

// NewConversationFromQuery creates a conversation seeded with a single user turn.
func NewConversationFromQuery(query string) *Conversation {
	c := NewConversation()
	c.turns = append(c.turns, NewUserTurn(query))
	return c
}

// Append validates and appends turns atomically: either every turn is
// appended or, on the first violation, none is.
func (c *Conversation) Append(turns ...Turn) error {
	open, observed := c.open, c.observed
	for i, t := range turns {
		var err error
		open, observed, err = validateNext(open, observed, t)
		if err != nil {
			return errors.Wrapf(err, "append turn %d (%s)", len(c.turns)+i, t.Role)
		}
	}
	for _, t := range turns {
		c.turns = append(c.turns, t.clone())
	}
	c.open, c.observed = open, observed
	return nil
}

func validateNext(open []InvocationRequest, observed int, t Turn) ([]InvocationRequest, int, error) {
	switch t.Role {
	case RoleObservation:
		if len(open) == 0 {
			return nil, 0, errors.Wrap(ErrTranscriptInvariant, "observation without a preceding invocation turn")
		}
		if observed >= len(open) {
			return nil, 0, errors.Wrapf(ErrTranscriptInvariant, "more observations than the %d requested invocations", len(open))
		}
		if t.Result == nil {
			return nil, 0, errors.Wrap(ErrTranscriptInvariant, "observation turn without result")
		}
		if want := open[observed].ID; t.Result.RequestID != want {
			return nil, 0, errors.Wrapf(ErrTranscriptInvariant, "observation for %q, expected %q", t.Result.RequestID, want)
		}
		return open, observed + 1, nil
	case RoleUser, RoleAssistant:
		if observed < len(open) {
			return nil, 0, errors.Wrapf(ErrTranscriptInvariant, "%d invocations still lack observations", len(open)-observed)
		}
		if t.Role == RoleAssistant && t.HasInvocations() {
			if err := validateInvocationSet(t.Invocations); err != nil {
				return nil, 0, err
			}
			return append([]InvocationRequest(nil), t.Invocations...), 0, nil
		}
		return nil, 0, nil
	default:
		return nil, 0, errors.Wrapf(ErrTranscriptInvariant, "unknown role %q", t.Role)
	}
}

func validateInvocationSet(invs []InvocationRequest) error {
	slots := make(map[int]struct{}, len(invs))
	ids := make(map[string]struct{}, len(invs))
	for _, inv := range invs {
		if inv.ID == "" {
			return errors.Wrapf(ErrTranscriptInvariant, "invocation %q in slot %d has no id", inv.Name, inv.Slot)
		}
		if _, dup := slots[inv.Slot]; dup {
			return errors.Wrapf(ErrTranscriptInvariant, "duplicate slot %d", inv.Slot)
		}
		if _, dup := ids[inv.ID]; dup {
			return errors.Wrapf(ErrTranscriptInvariant, "duplicate invocation id %q", inv.ID)
		}
		slots[inv.Slot] = struct{}{}
		ids[inv.ID] = struct{}{}
	}
	return nil
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Turns returns a defensive copy of all turns in order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	for i, t := range c.turns {
		out[i] = t.clone()
	}
	return out
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1].clone(), true
}

// LastAssistant returns the most recent assistant turn.
func (c *Conversation) LastAssistant() (Turn, bool) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAssistant {
			return c.turns[i].clone(), true
		}
	}
	return Turn{}, false
}

// PendingInvocations returns the invocations of the latest assistant turn that
// do not have an observation yet, in slot order.
func (c *Conversation) PendingInvocations() []InvocationRequest {
	if c.observed >= len(c.open) {
		return nil
	}
	return append([]InvocationRequest(nil), c.open[c.observed:]...)
}

// IsTerminated reports whether the transcript ends with a final assistant answer.
func (c *Conversation) IsTerminated() bool {
	last, ok := c.Last()
	return ok && last.IsFinal()
}

// Clone returns an independent copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{
		turns:    c.Turns(),
		open:     append([]InvocationRequest(nil), c.open...),
		observed: c.observed,
	}
}

// MarshalJSON renders the transcript as a JSON array of turns.
func (c *Conversation) MarshalJSON() ([]byte, error) { return json.Marshal(c.turns) }

package model

import (
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// ObservationPrefix prefixes observation text in plain-text transcripts.
const ObservationPrefix = "Observation: "

// RenderObservation renders an observation turn as user text for backends
// driven by a free-text protocol.
func RenderObservation(t core.Turn) string {
	out := t.Content
	if t.Result != nil {
		out = t.Result.Output
	}
	return ObservationPrefix + out
}

// RenderInvocations renders invocation requests as ReAct style text. It is
// used when an assistant turn carrying structured invocations has to be
// replayed to a backend in plain-text mode.
func RenderInvocations(invs []core.InvocationRequest) string {
	var sb strings.Builder
	for i, inv := range invs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Action: ")
		sb.WriteString(inv.Name)
		sb.WriteString("\nAction Input: ")
		if inv.RawArguments == "" {
			sb.WriteString("{}")
		} else {
			sb.WriteString(inv.RawArguments)
		}
	}
	return sb.String()
}

// AssistantText returns the text of an assistant turn as it should be shown
// to a plain-text backend.
func AssistantText(t core.Turn) string {
	if t.Content != "" || !t.HasInvocations() {
		return t.Content
	}
	return RenderInvocations(t.Invocations)
}

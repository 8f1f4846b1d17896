package model

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrScriptExhausted is returned when a ScriptedModel is called more often
// than it has scripted steps.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// ScriptStep is one canned backend reply.
type ScriptStep struct {
	// Message is the complete reply.
	Message Message
	// Fragments, when set, are streamed verbatim instead of splitting Message.
	Fragments []Fragment
	// Usage is attached to the final response.
	Usage *TokenUsage
	// Err makes the call fail with this error.
	Err error
}

// ScriptedModel is a deterministic in-memory Model useful for tests, examples
// and the CLI's offline provider. Each Generate call consumes the next step.
type ScriptedModel struct {
	info      Info
	chunkSize int

	mu       sync.Mutex
	steps    []ScriptStep
	next     int
	requests []Request
}

// ScriptedOptions configure a ScriptedModel.
type ScriptedOptions struct {
	Name string
	// ChunkSize is the maximum fragment text length used when streaming.
	ChunkSize int
}

// NewScriptedModel creates a ScriptedModel returning steps in order.
func NewScriptedModel(steps []ScriptStep, optFns ...func(o *ScriptedOptions)) *ScriptedModel {
	opts := ScriptedOptions{Name: "scripted", ChunkSize: 3}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &ScriptedModel{
		info: Info{
			Name:              opts.Name,
			Provider:          "scripted",
			SupportsTools:     true,
			SupportsStreaming: true,
		},
		chunkSize: opts.ChunkSize,
		steps:     append([]ScriptStep(nil), steps...),
	}
}

// NewScriptedModelFromMessages is a convenience wrapper over NewScriptedModel.
func NewScriptedModelFromMessages(msgs ...Message) *ScriptedModel {
	steps := make([]ScriptStep, len(msgs))
	for i, m := range msgs {
		steps[i] = ScriptStep{Message: m}
	}
	return NewScriptedModel(steps)
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var (
		step ScriptStep
		ok   bool
	)
	if m.next < len(m.steps) {
		step, ok = m.steps[m.next], true
		m.next++
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- ErrScriptExhausted
			return
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		send := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case respCh <- r:
				return true
			}
		}

		if !req.Stream {
			send(Response{Message: step.Message, FinishReason: finishReason(step.Message), Usage: step.Usage})
			return
		}

		frags := step.Fragments
		if frags == nil {
			frags = SplitMessage(step.Message, m.chunkSize)
		}

		for _, f := range frags {
			if !send(Response{Partial: true, Fragment: f}) {
				return
			}
		}

		send(Response{FinishReason: finishReason(step.Message), Usage: step.Usage})
	}()

	return respCh, errCh
}

func finishReason(m Message) string {
	if len(m.ToolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls received.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// Remaining returns the number of unconsumed steps.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.steps) - m.next
}

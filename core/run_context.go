package core

import (
	"context"
	"maps"
	"sync"

	"github.com/hupe1980/agentloop/logging"
)

// RunContext carries execution state & helpers for a single run.
// It aggregates:
//   - The ambient cancellation Context
//   - The RunID used for logging and transcript storage
//   - The Conversation owned by the run
//   - The PlanState when the run uses plan-and-execute mode
//   - The IterationLimiter enforcing the iteration budget
//   - A shared key/value scratchpad capabilities may read and write
//
// The Conversation is only mutated by the controller goroutine. The
// scratchpad is guarded by a mutex because capabilities of one invocation
// set run concurrently.
type RunContext struct {
	Context      context.Context
	RunID        string
	Conversation *Conversation
	Plan         *PlanState
	Limiter      *IterationLimiter

	mu    sync.RWMutex
	state map[string]any

	*loggerAdapter
}

// NewRunContext constructs a RunContext over conv. A fresh RunID is
// generated when runID is empty.
func NewRunContext(ctx context.Context, runID string, conv *Conversation, maxIterations int, logger logging.Logger) *RunContext {
	if runID == "" {
		runID = NewID()
	}

	if conv == nil {
		conv = NewConversation()
	}

	return &RunContext{
		Context:       ctx,
		RunID:         runID,
		Conversation:  conv,
		Limiter:       NewIterationLimiter(maxIterations),
		state:         map[string]any{},
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns a scratchpad value.
func (rc *RunContext) GetState(k string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	v, ok := rc.state[k]

	return v, ok
}

// SetState stores a scratchpad value.
func (rc *RunContext) SetState(k string, v any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.state[k] = v
}

// State returns a copy of the scratchpad.
func (rc *RunContext) State() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return maps.Clone(rc.state)
}

// WithContext returns a shallow copy bound to ctx. The conversation,
// limiter and scratchpad are shared with the original.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return &RunContext{
		Context:       ctx,
		RunID:         rc.RunID,
		Conversation:  rc.Conversation,
		Plan:          rc.Plan,
		Limiter:       rc.Limiter,
		state:         rc.state,
		loggerAdapter: rc.loggerAdapter,
	}
}

package core

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/agentloop/logging"
)

// CallContext is the constrained surface handed to a capability handler for
// one invocation. Its Context carries the per-call deadline when the
// executor enforces a timeout.
type CallContext struct {
	ctx     context.Context
	runCtx  *RunContext
	request InvocationRequest

	*loggerAdapter
}

// NewCallContext binds an invocation request to its parent run.
func NewCallContext(ctx context.Context, runCtx *RunContext, req InvocationRequest) *CallContext {
	return &CallContext{
		ctx:           ctx,
		runCtx:        runCtx,
		request:       req,
		loggerAdapter: newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context for the invocation.
func (cc *CallContext) Context() context.Context { return cc.ctx }

// RunID returns the id of the owning run.
func (cc *CallContext) RunID() string { return cc.runCtx.RunID }

// InvocationID returns the id of the invocation being executed.
func (cc *CallContext) InvocationID() string { return cc.request.ID }

// CapabilityName returns the name of the invoked capability.
func (cc *CallContext) CapabilityName() string { return cc.request.Name }

// Slot returns the position of the invocation within its set.
func (cc *CallContext) Slot() int { return cc.request.Slot }

// Logger returns the logger associated with the invocation.
func (cc *CallContext) Logger() logging.Logger { return cc.loggerAdapter.Logger() }

// GetState reads the run scratchpad.
func (cc *CallContext) GetState(k string) (any, bool) { return cc.runCtx.GetState(k) }

// SetState writes the run scratchpad.
func (cc *CallContext) SetState(k string, v any) { cc.runCtx.SetState(k, v) }

// Validate performs a structural sanity check of the context.
func (cc *CallContext) Validate() error {
	if cc.runCtx == nil || cc.ctx == nil || cc.request.ID == "" || cc.request.Name == "" {
		return errors.New("invalid CallContext")
	}

	return nil
}

// RunContext returns the owning run context.
func (cc *CallContext) RunContext() (*RunContext, bool) { return cc.runCtx, cc.runCtx != nil }

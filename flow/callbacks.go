package flow

import (
	"context"
	"sync"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// CallbackType defines the lifecycle points where callbacks can be executed.
//
// Callbacks hook into the loop without modifying it. Before* callbacks may
// veto the operation by returning an error; all other callbacks are
// telemetry and their errors are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeReasoning is triggered before the backend is called.
	// An error aborts the run.
	CallbackBeforeReasoning CallbackType = "before_reasoning"

	// CallbackAfterReasoning is triggered with the normalized decision.
	CallbackAfterReasoning CallbackType = "after_reasoning"

	// CallbackBeforeCapability is triggered before a handler is called. An
	// error turns the invocation into an execution-error observation.
	CallbackBeforeCapability CallbackType = "before_capability"

	// CallbackAfterCapability is triggered with every invocation result.
	CallbackAfterCapability CallbackType = "after_capability"

	// CallbackOnError is triggered when a run aborts.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnAnomaly is triggered for every reasoning fragment received
	// after the content phase of a turn began.
	CallbackOnAnomaly CallbackType = "on_anomaly"

	// CallbackOnUsage is triggered for usage records of the backend.
	CallbackOnUsage CallbackType = "on_usage"

	// CallbackOnImplicitFinal is triggered when free text without marker or
	// recoverable action is accepted as the final answer.
	CallbackOnImplicitFinal CallbackType = "on_implicit_final"
)

// CallbackContext provides context information for callback execution.
// Only the fields relevant to the callback type are populated.
type CallbackContext struct {
	// RunContext gives access to the run, its conversation and scratchpad.
	RunContext *core.RunContext

	// Iteration is the 1-based reasoning cycle.
	Iteration int

	// Decision is set for CallbackAfterReasoning and CallbackOnImplicitFinal.
	Decision *Decision

	// Invocation is set for capability callbacks.
	Invocation *core.InvocationRequest

	// Result is set for CallbackAfterCapability.
	Result *core.InvocationResult

	// Fragment is set for CallbackOnAnomaly.
	Fragment *model.Fragment

	// Usage is set for CallbackOnUsage.
	Usage *model.TokenUsage

	// Err is set for CallbackOnError.
	Err error

	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for loop lifecycle hooks.
//
// Capability callbacks run on the executor's goroutines, so implementations
// must be safe for concurrent use.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	anomalies := NewFunctionCallback(
//	    CallbackOnAnomaly,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("late reasoning: %q", cc.Fragment.Reasoning)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type. Callbacks of one type run
// sequentially in registration order and the first error stops the chain.
//
// A nil *CallbackManager is valid and runs nothing.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager(callbacks ...Callback) *CallbackManager {
	cm := &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
	for _, cb := range callbacks {
		cm.RegisterCallback(cb)
	}

	return cm
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the given type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// notify runs telemetry callbacks and logs (instead of returning) failures.
func (cm *CallbackManager) notify(ctx context.Context, logger logging.Logger, callbackType CallbackType, callbackCtx *CallbackContext) {
	if err := cm.ExecuteCallbacks(ctx, callbackType, callbackCtx); err != nil && logger != nil {
		logger.Warn("flow.callback.error", "callback", string(callbackType), "error", err.Error())
	}
}

// LoggingCallback forwards lifecycle events to a logger at debug level.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	args := []any{"callback", string(c.callbackType), "iteration", cc.Iteration}
	if cc.RunContext != nil {
		args = append(args, "run.id", cc.RunContext.RunID)
	}
	if cc.Invocation != nil {
		args = append(args, "capability", cc.Invocation.Name, "invocation.id", cc.Invocation.ID)
	}
	if cc.Result != nil {
		args = append(args, "kind", cc.Result.Kind.String())
	}
	if cc.Decision != nil {
		args = append(args, "decision", cc.Decision.Kind.String(), "source", cc.Decision.Source.String())
	}
	if cc.Usage != nil {
		args = append(args, "tokens.total", cc.Usage.TotalTokens)
	}
	if cc.Err != nil {
		args = append(args, "error", cc.Err.Error())
	}

	c.logger.Debug("flow.callback", args...)

	return nil
}

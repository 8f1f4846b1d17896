package flow

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
)

// DefaultCallTimeout bounds a single capability call.
const DefaultCallTimeout = 30 * time.Second

// ExecutorOptions configures the action step.
type ExecutorOptions struct {
	// MaxParallel limits concurrently running handlers; < 1 means one
	// goroutine per invocation.
	MaxParallel int

	// Timeout bounds each call; <= 0 disables the limit.
	Timeout time.Duration

	// LogStartEvents logs a start line per invocation.
	LogStartEvents bool

	Callbacks *CallbackManager
}

// Executor runs the invocations of one turn against a capability set.
//
// Contract:
//   - Exactly one result per invocation, returned in slot order no matter in
//     which order the handlers finish
//   - Argument, lookup and handler failures become results, never errors
//   - Handler panics are recovered
//   - If the run is cancelled, Execute returns the context error and no
//     results at all
type Executor struct {
	caps Capabilities
	opts ExecutorOptions
}

// NewExecutor creates an Executor dispatching to caps.
func NewExecutor(caps Capabilities, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Timeout: DefaultCallTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{caps: caps, opts: opts}
}

// Execute runs invs concurrently and returns their results in slot order.
func (e *Executor) Execute(runCtx *core.RunContext, iteration int, invs []core.InvocationRequest) ([]core.InvocationResult, error) {
	n := len(invs)
	if n == 0 {
		return nil, nil
	}

	if err := runCtx.Err(); err != nil {
		return nil, err
	}

	ordered := slices.Clone(invs)
	slices.SortStableFunc(ordered, func(a, b core.InvocationRequest) int { return cmp.Compare(a.Slot, b.Slot) })

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.InvocationResult, n)

	var g errgroup.Group
	g.SetLimit(maxPar)

	batchStart := time.Now()

	for i := range ordered {
		i := i // per-iteration copy; the go directive predates Go 1.22 loop semantics
		g.Go(func() error {
			results[i] = e.executeOne(runCtx, iteration, ordered[i])
			return nil
		})
	}

	_ = g.Wait()

	if err := runCtx.Err(); err != nil {
		runCtx.LogWarn("flow.capabilities.batch.cancelled", "run.id", runCtx.RunID, "count", n)
		return nil, err
	}

	runCtx.LogDebug(
		"flow.capabilities.batch.complete",
		"run.id", runCtx.RunID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results, nil
}

func (e *Executor) executeOne(runCtx *core.RunContext, iteration int, inv core.InvocationRequest) core.InvocationResult {
	result := core.InvocationResult{RequestID: inv.ID, Name: inv.Name}

	if e.opts.LogStartEvents {
		runCtx.LogInfo("flow.capability.start", "run.id", runCtx.RunID, "capability", inv.Name, "invocation.id", inv.ID)
	}

	start := time.Now()

	defer func() {
		if cl, ok := runCtx.Logger().(logging.CallLogger); ok {
			cl.LogCapabilityCall(inv.Name, time.Since(start), result.Kind.String())
		} else {
			runCtx.LogInfo(
				"flow.capability.executed",
				"run.id", runCtx.RunID,
				"capability", inv.Name,
				"invocation.id", inv.ID,
				"kind", result.Kind.String(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}

		e.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackAfterCapability, &CallbackContext{
			RunContext: runCtx, Iteration: iteration, Invocation: &inv, Result: &result,
		})
	}()

	args, err := parseArguments(inv.RawArguments)
	if err != nil {
		result.Kind, result.Output = core.KindArgumentParseError, err.Error()
		return result
	}

	impl, ok := e.lookup(inv.Name)
	if !ok {
		result.Kind, result.Output = core.KindCapabilityNotFound, fmt.Sprintf("capability %s not found", inv.Name)
		return result
	}

	if err := e.opts.Callbacks.ExecuteCallbacks(runCtx.Context, CallbackBeforeCapability, &CallbackContext{
		RunContext: runCtx, Iteration: iteration, Invocation: &inv,
	}); err != nil {
		result.Kind, result.Output = core.KindExecutionError, err.Error()
		return result
	}

	out, err := e.call(runCtx, inv, impl, args)
	if err != nil {
		result.Kind, result.Output = core.KindExecutionError, err.Error()
		return result
	}

	result.Kind, result.Output = core.KindOK, out

	return result
}

func (e *Executor) lookup(name string) (capabilityHandler, bool) {
	if e.caps == nil {
		return nil, false
	}

	c, ok := e.caps.Lookup(name)
	if !ok || c == nil {
		return nil, false
	}

	return c.Call, true
}

type capabilityHandler func(cc *core.CallContext, args map[string]any) (string, error)

type callOutcome struct {
	out string
	err error
}

// call runs the handler in its own goroutine so the timeout holds even for
// handlers that ignore their context. The result channel is buffered so an
// abandoned handler can still finish.
func (e *Executor) call(runCtx *core.RunContext, inv core.InvocationRequest, fn capabilityHandler, args map[string]any) (string, error) {
	ctx := runCtx.Context

	var cancel context.CancelFunc
	if e.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cc := core.NewCallContext(ctx, runCtx, inv)

	done := make(chan callOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				runCtx.LogError("flow.capability.panic", "run.id", runCtx.RunID, "capability", inv.Name, "recover", r, "stack", string(debug.Stack()))
				done <- callOutcome{err: panicError(inv.Name, r)}
			}
		}()

		out, err := fn(cc, args)
		done <- callOutcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		if runCtx.Err() != nil {
			return "", runCtx.Err()
		}
		return "", errors.Newf("capability %s timed out after %s", inv.Name, e.opts.Timeout)
	}
}

// panicError converts a recovered panic value to an error.
func panicError(name string, r any) error {
	return errors.Newf("capability %s panicked: %v", name, r)
}

// parseArguments decodes the raw arguments of an invocation. An empty
// payload is an empty object; anything but a JSON object is rejected.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrap(err, "invalid arguments")
	}

	if args == nil {
		return nil, errors.New("invalid arguments: expected a JSON object, got null")
	}

	return args, nil
}

// Package agentloop provides a high-level façade over the flow package:
// it wires a reasoning backend and a capability registry into a Controller
// (and, on demand, a PlanController) and keeps the transcript of every run
// in a TranscriptStore. Most applications interact with this package by:
//  1. Creating an AgentLoop via New() with a model and a capability registry
//  2. Calling Run with a query (optionally in plan-and-execute mode)
//  3. Inspecting the Result or the stored transcript via Transcript
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable store and a structured logger.
package agentloop

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/flow"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/session"
)

// Result is the outcome of a run.
type Result = flow.Result

// Options configures the AgentLoop instance.
type Options struct {
	// Instructions are the system instructions, rendered as a text/template
	// with the run scratchpad as data.
	Instructions string

	// Mode selects native tool calls or a free-text protocol.
	Mode flow.ModeConfig

	// Stream enables fragment streaming from the backend.
	Stream bool

	// MaxIterations is the default reasoning cycle ceiling per run
	// (per step in plan mode).
	MaxIterations int

	// MaxReplans bounds the replanning rounds of plan runs.
	MaxReplans int

	// MaxParallel bounds concurrent invocations per action step (0 = all).
	MaxParallel int

	// CallTimeout bounds a single capability call.
	CallTimeout time.Duration

	// MaxTurns bounds the transcript sent to the backend (0 = all).
	MaxTurns int

	// Planner is the backend used for planning; defaults to the run model.
	Planner model.Model

	// Store keeps run transcripts (defaults to an in-memory store).
	Store core.TranscriptStore

	// MaxConcurrentRuns limits the number of runs that can execute
	// simultaneously; Run blocks until a slot frees up. 0 is unlimited.
	MaxConcurrentRuns int

	Callbacks *flow.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// RunOptions configure a single run.
type RunOptions struct {
	// MaxIterations overrides Options.MaxIterations when positive.
	MaxIterations int

	// PlanningMode runs the query as a plan-and-execute goal.
	PlanningMode bool

	// InitialPlan seeds the plan; when empty the planner drafts one.
	InitialPlan []string

	// State seeds the run scratchpad.
	State map[string]any

	// RunID fixes the run id (generated when empty), e.g. to Stop the run
	// from another goroutine.
	RunID string
}

var (
	// ErrRunNotActive is returned by Stop for unknown or finished runs.
	ErrRunNotActive = errors.New("run not active")

	// ErrRunActive is returned by Run when the run id is already in use.
	ErrRunActive = errors.New("run already active")
)

// AgentLoop is the high-level façade aggregating the loop components.
type AgentLoop struct {
	opts       Options
	caps       *capability.Registry
	controller *flow.Controller
	slots      *semaphore.Weighted

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// New creates an AgentLoop over m and caps. A nil registry is treated as
// an empty one.
func New(m model.Model, caps *capability.Registry, optFns ...func(o *Options)) *AgentLoop {
	opts := Options{
		MaxIterations: flow.DefaultMaxIterations,
		MaxReplans:    flow.DefaultMaxReplans,
		CallTimeout:   flow.DefaultCallTimeout,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Planner == nil {
		opts.Planner = m
	}
	if caps == nil {
		caps = capability.NewRegistry(nil)
	}

	reasoner := flow.NewReasoner(m, flow.DefaultProcessors(opts.Instructions, caps, opts.MaxTurns),
		flow.SelectReasonerOptions(opts.Mode),
		func(o *flow.ReasonerOptions) {
			o.Stream = opts.Stream
			o.Callbacks = opts.Callbacks
		},
	)

	executor := flow.NewExecutor(caps, func(o *flow.ExecutorOptions) {
		o.MaxParallel = opts.MaxParallel
		o.Timeout = opts.CallTimeout
		o.Callbacks = opts.Callbacks
	})

	controller := flow.NewController(reasoner, executor, caps, func(o *flow.ControllerOptions) {
		o.MaxIterations = opts.MaxIterations
		o.Logger = opts.Logger
		o.Callbacks = opts.Callbacks
	})

	a := &AgentLoop{
		opts:       opts,
		caps:       caps,
		controller: controller,
		active:     map[string]context.CancelFunc{},
	}
	if opts.MaxConcurrentRuns > 0 {
		a.slots = semaphore.NewWeighted(int64(opts.MaxConcurrentRuns))
	}

	return a
}

// Run executes query. The transcript is stored under Result.RunID; aborted
// runs are stored as well and show up in Runs.
func (a *AgentLoop) Run(ctx context.Context, query string, optFns ...func(o *RunOptions)) (*Result, error) {
	var ro RunOptions
	for _, fn := range optFns {
		fn(&ro)
	}

	maxIterations := a.opts.MaxIterations
	if ro.MaxIterations > 0 {
		maxIterations = ro.MaxIterations
	}

	if a.slots != nil {
		if err := a.slots.Acquire(ctx, 1); err != nil {
			return nil, core.NewLoopError("run", 0, errors.Wrap(err, "waiting for a run slot"))
		}
		defer a.slots.Release(1)
	}

	if ro.RunID == "" {
		ro.RunID = core.NewID()
	}

	logger := a.opts.Logger
	if rl, ok := logger.(*logging.RunLogger); ok {
		logger = rl.WithComponent("agentloop").WithRun(ro.RunID)
	}

	runCtx := core.NewRunContext(ctx, ro.RunID, core.NewConversationFromQuery(query), maxIterations, logger)

	var cancel context.CancelFunc
	runCtx.Context, cancel = context.WithCancel(ctx)
	defer cancel()

	if err := a.track(runCtx.RunID, cancel); err != nil {
		return nil, core.NewLoopError("run", 0, err)
	}
	defer a.untrack(runCtx.RunID)

	for k, v := range ro.State {
		runCtx.SetState(k, v)
	}

	var (
		res *Result
		err error
	)

	if ro.PlanningMode {
		runCtx.Plan = core.NewPlanState(query, ro.InitialPlan)
		res, err = a.planController(maxIterations).Execute(runCtx)
	} else {
		res, err = a.controller.Execute(runCtx)
	}

	conv := runCtx.Conversation
	if res != nil && res.Conversation != nil {
		conv = res.Conversation
	}

	if saveErr := a.opts.Store.Save(runCtx.RunID, conv.Turns()); saveErr != nil {
		runCtx.LogWarn("agentloop.transcript.save_failed", "run.id", runCtx.RunID, "error", saveErr.Error())
	}

	return res, err
}

func (a *AgentLoop) track(runID string, cancel context.CancelFunc) error {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()

	if _, ok := a.active[runID]; ok {
		return errors.Wrapf(ErrRunActive, "run %s", runID)
	}
	a.active[runID] = cancel

	return nil
}

func (a *AgentLoop) untrack(runID string) {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()

	delete(a.active, runID)
}

// Stop cancels an active run. The run returns a LoopError wrapping
// context.Canceled; its transcript is stored as usual.
func (a *AgentLoop) Stop(runID string) error {
	a.activeMu.Lock()
	cancel, ok := a.active[runID]
	a.activeMu.Unlock()

	if !ok {
		return errors.Wrapf(ErrRunNotActive, "run %s", runID)
	}

	cancel()

	return nil
}

// Active returns the number of runs currently executing.
func (a *AgentLoop) Active() int {
	a.activeMu.Lock()
	defer a.activeMu.Unlock()

	return len(a.active)
}

func (a *AgentLoop) planController(maxIterations int) *flow.PlanController {
	return flow.NewPlanController(a.opts.Planner, a.controller, func(o *flow.PlanOptions) {
		o.MaxReplans = a.opts.MaxReplans
		o.MaxIterations = maxIterations
		o.Stream = a.opts.Stream
		o.Logger = a.opts.Logger
		o.Callbacks = a.opts.Callbacks
	})
}

// Transcript returns the stored transcript of a run.
func (a *AgentLoop) Transcript(runID string) ([]core.Turn, error) {
	return a.opts.Store.Get(runID)
}

// Runs returns the ids of the stored runs in insertion order.
func (a *AgentLoop) Runs() ([]string, error) {
	return a.opts.Store.List()
}

// Capabilities returns the registry the loop dispatches to.
func (a *AgentLoop) Capabilities() *capability.Registry { return a.caps }

package flow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// DefaultMaxIterations is the reasoning cycle ceiling of a run.
const DefaultMaxIterations = 10

// Status qualifies how a run terminated.
type Status string

const (
	// StatusCompleted means a final answer was produced.
	StatusCompleted Status = "completed"
	// StatusIterationLimit means the ceiling was reached; Answer is best effort.
	StatusIterationLimit Status = "iteration_limit"
)

// Result is the outcome of a run.
type Result struct {
	RunID  string
	Status Status
	Answer string

	// Source tells how the final answer was derived. It is only meaningful
	// for StatusCompleted.
	Source DecisionSource

	// Iterations is the number of reasoning cycles consumed (plan mode:
	// the number of executed steps).
	Iterations int

	Conversation *core.Conversation
	Plan         *core.PlanState
	Usage        model.TokenUsage
	Anomalies    int
}

// Partial reports whether the answer is a best-effort one.
func (r *Result) Partial() bool { return r.Status != StatusCompleted }

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// MaxIterations is used for runs started with Run; <= 0 selects the default.
	MaxIterations int

	Logger    logging.Logger
	Callbacks *CallbackManager
}

// Controller drives the reasoning/action state machine of a single run:
// Reasoning either terminates or hands an invocation set to the action
// step, whose observations are folded back before the next reasoning step.
//
// A Controller holds no per-run state and may drive concurrent runs.
type Controller struct {
	reasoner *Reasoner
	executor *Executor
	caps     Capabilities
	opts     ControllerOptions
}

// NewController wires a reasoner and an executor over caps.
func NewController(reasoner *Reasoner, executor *Executor, caps Capabilities, optFns ...func(o *ControllerOptions)) *Controller {
	opts := ControllerOptions{
		MaxIterations: DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	return &Controller{
		reasoner: reasoner,
		executor: executor,
		caps:     caps,
		opts:     opts,
	}
}

// Run starts a new run seeded with query.
func (c *Controller) Run(ctx context.Context, query string) (*Result, error) {
	runCtx := core.NewRunContext(ctx, "", core.NewConversationFromQuery(query), c.opts.MaxIterations, c.opts.Logger)
	return c.Execute(runCtx)
}

// Execute drives runCtx until a final answer, the iteration ceiling or an
// abort. Only backend failures, transcript violations and cancellation
// return an error, always as *core.LoopError.
func (c *Controller) Execute(runCtx *core.RunContext) (*Result, error) {
	if s, ok := c.caps.(interface{ Seal() }); ok {
		s.Seal()
	}

	if runCtx.Limiter == nil {
		runCtx.Limiter = core.NewIterationLimiter(c.opts.MaxIterations)
	}

	start := time.Now()
	res := &Result{RunID: runCtx.RunID, Conversation: runCtx.Conversation, Plan: runCtx.Plan}

	runCtx.LogInfo("flow.loop.start", "run.id", runCtx.RunID, "max_iterations", runCtx.Limiter.Max())

	for {
		if err := runCtx.Limiter.Increment(); err != nil {
			res.Status = StatusIterationLimit
			res.Answer = bestEffortAnswer(runCtx.Conversation)
			res.Iterations = runCtx.Limiter.Count()
			runCtx.LogWarn("flow.loop.iteration_limit", "run.id", runCtx.RunID, "iterations", res.Iterations)
			c.finish(runCtx, res, start, nil)
			return res, nil
		}

		iteration := runCtx.Limiter.Count()
		res.Iterations = iteration

		if err := c.opts.Callbacks.ExecuteCallbacks(runCtx.Context, CallbackBeforeReasoning, &CallbackContext{
			RunContext: runCtx, Iteration: iteration,
		}); err != nil {
			return nil, c.fail(runCtx, res, start, "callback", iteration, err)
		}

		d, err := c.reasoner.Step(runCtx, iteration)
		if err != nil {
			return nil, c.fail(runCtx, res, start, "reasoning", iteration, err)
		}

		res.Anomalies += d.Anomalies
		addUsage(&res.Usage, d.Usage)

		c.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackAfterReasoning, &CallbackContext{
			RunContext: runCtx, Iteration: iteration, Decision: &d,
		})

		if d.Kind == DecisionFinal {
			if d.Source != SourceReplay {
				if err := runCtx.Conversation.Append(d.Turn); err != nil {
					return nil, c.fail(runCtx, res, start, "transcript", iteration, err)
				}
			}

			res.Status, res.Answer, res.Source = StatusCompleted, d.Answer, d.Source
			c.finish(runCtx, res, start, nil)

			return res, nil
		}

		if err := runCtx.Conversation.Append(d.Turn); err != nil {
			return nil, c.fail(runCtx, res, start, "transcript", iteration, err)
		}

		results, err := c.executor.Execute(runCtx, iteration, d.Turn.Invocations)
		if err != nil {
			return nil, c.fail(runCtx, res, start, "action", iteration, err)
		}

		observations := make([]core.Turn, len(results))
		for i, r := range results {
			observations[i] = core.NewObservationTurn(r)
		}

		if err := runCtx.Conversation.Append(observations...); err != nil {
			return nil, c.fail(runCtx, res, start, "transcript", iteration, err)
		}
	}
}

func (c *Controller) fail(runCtx *core.RunContext, res *Result, start time.Time, op string, iteration int, err error) error {
	loopErr := core.NewLoopError(op, iteration, err)

	c.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackOnError, &CallbackContext{
		RunContext: runCtx, Iteration: iteration, Err: loopErr,
	})

	c.finish(runCtx, res, start, loopErr)

	return loopErr
}

func (c *Controller) finish(runCtx *core.RunContext, res *Result, start time.Time, err error) {
	if cl, ok := runCtx.Logger().(logging.CallLogger); ok {
		cl.LogLoopExecution(res.Iterations, time.Since(start), string(res.Status), err)
		return
	}

	args := []any{
		"run.id", runCtx.RunID,
		"iterations", res.Iterations,
		"turns", runCtx.Conversation.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	}

	if err != nil {
		runCtx.LogError("flow.loop.failed", append(args, "error", err.Error(), "cancelled", errors.Is(err, context.Canceled))...)
		return
	}

	runCtx.LogInfo("flow.loop.completed", append(args, "status", string(res.Status), "source", res.Source.String())...)
}

// bestEffortAnswer returns the last non-empty assistant text, falling back
// to the last observation output.
func bestEffortAnswer(conv *core.Conversation) string {
	turns := conv.Turns()

	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == core.RoleAssistant && turns[i].Content != "" {
			return turns[i].Content
		}
	}

	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == core.RoleObservation && turns[i].Result != nil {
			return turns[i].Result.Output
		}
	}

	return ""
}

func addUsage(total *model.TokenUsage, u *model.TokenUsage) {
	if u == nil {
		return
	}

	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

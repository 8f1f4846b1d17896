package flow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/agentloop/core"
	internalutil "github.com/hupe1980/agentloop/internal/util"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// DefaultMaxReplans bounds the replanning rounds of a plan run.
const DefaultMaxReplans = 25

// ErrInvalidPlannerDecision is wrapped when the planner reply cannot be
// decoded or validated.
var ErrInvalidPlannerDecision = errors.New("invalid planner decision")

// PlannerDecision is the structured reply of the planner.
type PlannerDecision struct {
	Type     string   `json:"type" validate:"required,oneof=plan response" jsonschema:"enum=plan,enum=response,description=plan to continue with the remaining steps or response to finish"`
	Steps    []string `json:"steps,omitempty" validate:"required_if=Type plan,dive,required" jsonschema:"description=remaining steps in execution order"`
	Response string   `json:"response,omitempty" validate:"required_if=Type response" jsonschema:"description=final answer to the user"`
}

// DefaultPlannerTemplate is rendered with .Goal, .Plan, .PastSteps and .Schema.
const DefaultPlannerTemplate = `For the given objective, come up with a simple step by step plan.
This plan should involve individual tasks that, if executed correctly, will yield the correct answer.
Do not add any superfluous steps. The result of the final step should be the final answer.

Your objective was this:
{{.Goal}}

Your original plan was this:
{{if .Plan}}{{range $i, $s := .Plan}}{{inc $i}}. {{$s}}
{{end}}{{else}}none
{{end}}
You have currently done the following steps:
{{if .PastSteps}}{{range .PastSteps}}- {{.Step}}: {{.Result}}
{{end}}{{else}}none
{{end}}
Update your plan accordingly. If no more steps are needed and you can return to the user, respond with type "response".
Otherwise respond with type "plan" and only the steps that still need to be done.

Respond with JSON in the following JSON schema:
` + "```json\n{{.Schema}}\n```" + `
Make sure to return an instance of the JSON, not the schema itself.`

// DefaultStepTemplate is rendered with .Plan and .Task.
const DefaultStepTemplate = `The plan has the following steps:
{{range $i, $s := .Plan}}{{inc $i}}. {{$s}}
{{end}}
You are tasked with executing step 1. {{.Task}}.`

// PlanOptions configures a PlanController.
type PlanOptions struct {
	// MaxReplans bounds replanning rounds; <= 0 selects the default.
	MaxReplans int

	// MaxIterations is the iteration ceiling of every step run.
	MaxIterations int

	// PlannerTemplate and StepTemplate are text/templates.
	PlannerTemplate string
	StepTemplate    string

	// Stream enables fragment streaming for planner calls.
	Stream bool

	Logger    logging.Logger
	Callbacks *CallbackManager
}

// PlanController runs plan-and-execute: the planner proposes steps, the
// first remaining step is executed by a nested Controller on a fresh
// conversation, and the planner revises the plan from the step results
// until it responds.
type PlanController struct {
	planner  model.Model
	executor *Controller
	opts     PlanOptions
	validate *validator.Validate
	schema   string
}

// NewPlanController creates a PlanController.
func NewPlanController(planner model.Model, executor *Controller, optFns ...func(o *PlanOptions)) *PlanController {
	opts := PlanOptions{
		MaxReplans:      DefaultMaxReplans,
		MaxIterations:   DefaultMaxIterations,
		PlannerTemplate: DefaultPlannerTemplate,
		StepTemplate:    DefaultStepTemplate,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxReplans <= 0 {
		opts.MaxReplans = DefaultMaxReplans
	}

	schema, _ := json.MarshalIndent(internalutil.CreateSchema(PlannerDecision{}), "", "  ")

	return &PlanController{
		planner:  planner,
		executor: executor,
		opts:     opts,
		validate: validator.New(),
		schema:   string(schema),
	}
}

// Run executes goal. initialPlan may be empty, in which case the planner is
// asked once for a plan before the first step.
func (p *PlanController) Run(ctx context.Context, goal string, initialPlan []string) (*Result, error) {
	runCtx := core.NewRunContext(ctx, "", core.NewConversationFromQuery(goal), 0, p.opts.Logger)
	runCtx.Plan = core.NewPlanState(goal, initialPlan)

	return p.Execute(runCtx)
}

// Execute drives the plan held by runCtx.Plan.
func (p *PlanController) Execute(runCtx *core.RunContext) (*Result, error) {
	plan := runCtx.Plan
	if plan == nil {
		return nil, core.NewLoopError("plan", 0, errors.New("run context has no plan state"))
	}

	start := time.Now()
	res := &Result{RunID: runCtx.RunID, Plan: plan, Conversation: runCtx.Conversation}

	runCtx.LogInfo("flow.plan.start", "run.id", runCtx.RunID, "steps", len(plan.RemainingSteps), "max_replans", p.opts.MaxReplans)

	if len(plan.RemainingSteps) == 0 {
		if err := p.replan(runCtx, res, "plan"); err != nil {
			return nil, err
		}
	}

	replans := 0

	for !plan.Done() {
		step, ok := plan.NextStep()
		if !ok {
			res.Status, res.Source = StatusCompleted, SourceImplicit
			res.Answer, _ = plan.LastResult()
			runCtx.LogDebug("flow.plan.implicit_final", "run.id", runCtx.RunID, "completed", len(plan.CompletedSteps))
			p.finish(runCtx, res, start)
			return res, nil
		}

		if replans >= p.opts.MaxReplans {
			res.Status = StatusIterationLimit
			res.Answer, _ = plan.LastResult()
			runCtx.LogWarn("flow.plan.replan_limit", "run.id", runCtx.RunID, "replans", replans)
			p.finish(runCtx, res, start)
			return res, nil
		}

		result, err := p.executeStep(runCtx, res, plan, step)
		if err != nil {
			return nil, err
		}

		plan.Complete(step, result)

		if err := p.replan(runCtx, res, "replan"); err != nil {
			return nil, err
		}

		replans++
	}

	res.Status, res.Source, res.Answer = StatusCompleted, SourcePlanner, *plan.FinalResponse
	p.finish(runCtx, res, start)

	return res, nil
}

// executeStep runs step on a fresh conversation. A step that hits its own
// iteration ceiling still yields its best-effort answer as step result.
func (p *PlanController) executeStep(runCtx *core.RunContext, res *Result, plan *core.PlanState, step string) (string, error) {
	task, err := internalutil.RenderTemplate(p.opts.StepTemplate, map[string]any{
		"Plan": plan.RemainingSteps,
		"Task": step,
	})
	if err != nil {
		return "", core.NewLoopError("execute", res.Iterations+1, errors.Wrap(err, "render step"))
	}

	stepCtx := core.NewRunContext(runCtx.Context, "", core.NewConversationFromQuery(task), p.opts.MaxIterations, runCtx.Logger())

	runCtx.LogInfo("flow.plan.step.start", "run.id", runCtx.RunID, "step.run.id", stepCtx.RunID, "step", step)

	stepRes, err := p.executor.Execute(stepCtx)
	if err != nil {
		return "", core.NewLoopError("execute", res.Iterations+1, err)
	}

	res.Iterations++
	res.Anomalies += stepRes.Anomalies
	addUsage(&res.Usage, &stepRes.Usage)
	res.Conversation = stepRes.Conversation

	runCtx.LogInfo("flow.plan.step.completed", "run.id", runCtx.RunID, "step", step, "status", string(stepRes.Status), "iterations", stepRes.Iterations)

	return stepRes.Answer, nil
}

// replan asks the planner for the next decision and applies it.
func (p *PlanController) replan(runCtx *core.RunContext, res *Result, op string) error {
	d, err := p.decide(runCtx, res)
	if err != nil {
		return core.NewLoopError(op, res.Iterations, err)
	}

	switch d.Type {
	case "response":
		runCtx.Plan.Respond(d.Response)
	default:
		runCtx.Plan.ReplaceSteps(d.Steps)
	}

	runCtx.LogInfo("flow.plan.decision", "run.id", runCtx.RunID, "op", op, "type", d.Type, "steps", len(d.Steps))

	return nil
}

func (p *PlanController) decide(runCtx *core.RunContext, res *Result) (PlannerDecision, error) {
	plan := runCtx.Plan

	prompt, err := internalutil.RenderTemplate(p.opts.PlannerTemplate, map[string]any{
		"Goal":      plan.Goal,
		"Plan":      plan.RemainingSteps,
		"PastSteps": plan.CompletedSteps,
		"Schema":    p.schema,
	})
	if err != nil {
		return PlannerDecision{}, errors.Wrap(err, "render planner prompt")
	}

	plannerCtx := core.NewRunContext(runCtx.Context, runCtx.RunID, core.NewConversationFromQuery(prompt), 0, runCtx.Logger())

	reasoner := NewReasoner(p.planner, []RequestProcessor{NewTranscriptProcessor(0)}, func(o *ReasonerOptions) {
		o.Stream = p.opts.Stream
		o.Callbacks = p.opts.Callbacks
	})

	c, err := reasoner.Complete(plannerCtx, res.Iterations)
	if err != nil {
		return PlannerDecision{}, err
	}

	addUsage(&res.Usage, c.Usage)

	d, err := p.parseDecision(c.Content)
	if err != nil {
		return PlannerDecision{}, core.NewBackendError(p.planner.Info().Name, err)
	}

	return d, nil
}

// parseDecision decodes and validates a planner reply.
func (p *PlanController) parseDecision(content string) (PlannerDecision, error) {
	var d PlannerDecision

	raw := internalutil.CleanJSON([]byte(strings.TrimSpace(content)))
	if err := json.Unmarshal(raw, &d); err != nil {
		return PlannerDecision{}, errors.Wrapf(ErrInvalidPlannerDecision, "decode: %v", err)
	}

	if err := p.validate.Struct(d); err != nil {
		return PlannerDecision{}, errors.Wrapf(ErrInvalidPlannerDecision, "validate: %v", err)
	}

	return d, nil
}

func (p *PlanController) finish(runCtx *core.RunContext, res *Result, start time.Time) {
	runCtx.LogInfo("flow.plan.completed",
		"run.id", runCtx.RunID,
		"status", string(res.Status),
		"steps", res.Iterations,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

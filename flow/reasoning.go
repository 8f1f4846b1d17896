package flow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// DecisionKind tells the controller whether to stop or to act.
type DecisionKind int

const (
	// DecisionFinal terminates the loop with Answer.
	DecisionFinal DecisionKind = iota
	// DecisionInvoke hands Invocations to the action step.
	DecisionInvoke
)

// String returns the string representation of the decision kind.
func (k DecisionKind) String() string {
	if k == DecisionInvoke {
		return "invoke"
	}
	return "final"
}

// DecisionSource records how a decision was derived from the backend output.
type DecisionSource int

const (
	// SourceStructured means the backend returned structured invocations.
	SourceStructured DecisionSource = iota
	// SourceMarker means the text contained the final answer marker.
	SourceMarker
	// SourceRecovered means a TextParser recovered an invocation from text.
	SourceRecovered
	// SourceImplicit means plain text without marker was accepted as final.
	SourceImplicit
	// SourceReplay means the transcript already ended with a final answer.
	SourceReplay
	// SourcePlanner means the planner of a plan run responded.
	SourcePlanner
)

// String returns the string representation of the source.
func (s DecisionSource) String() string {
	switch s {
	case SourceStructured:
		return "structured"
	case SourceMarker:
		return "marker"
	case SourceRecovered:
		return "recovered"
	case SourceImplicit:
		return "implicit"
	case SourceReplay:
		return "replay"
	case SourcePlanner:
		return "planner"
	default:
		return "unknown"
	}
}

// Decision is the normalized outcome of one reasoning step.
type Decision struct {
	Kind        DecisionKind
	Source      DecisionSource
	Answer      string
	Invocations []core.InvocationRequest

	// Turn is the assistant turn to append. It is zero for SourceReplay.
	Turn core.Turn

	Anomalies int
	Usage     *model.TokenUsage
}

// ReasonerOptions configures a Reasoner.
type ReasonerOptions struct {
	// Stream requests fragment streaming from the backend.
	Stream bool

	// PlainText asks the backend to render the transcript as text. Set it
	// for free-text protocols.
	PlainText bool

	// FinalMarker introduces the final answer in free text.
	FinalMarker string

	// Parsers recover invocations from free text, tried in order.
	Parsers []TextParser

	Callbacks *CallbackManager
}

// Reasoner performs the reasoning step: build a request, call the backend,
// assemble the reply and normalize it into a Decision.
type Reasoner struct {
	model      model.Model
	processors []RequestProcessor
	opts       ReasonerOptions
}

// NewReasoner creates a Reasoner for m.
func NewReasoner(m model.Model, processors []RequestProcessor, optFns ...func(o *ReasonerOptions)) *Reasoner {
	opts := ReasonerOptions{FinalMarker: DefaultFinalMarker}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Reasoner{
		model:      m,
		processors: processors,
		opts:       opts,
	}
}

// Step runs one reasoning step over the run's conversation.
//
// When the conversation already ends with a final assistant turn, Step
// returns that answer without calling the backend.
func (r *Reasoner) Step(runCtx *core.RunContext, iteration int) (Decision, error) {
	if last, ok := runCtx.Conversation.Last(); ok && last.IsFinal() {
		answer := last.Content
		if after, found := splitFinal(answer, r.opts.FinalMarker); found {
			answer = after
		}

		runCtx.LogDebug("flow.reasoning.replay", "run.id", runCtx.RunID, "turn.id", last.ID)

		return Decision{Kind: DecisionFinal, Source: SourceReplay, Answer: answer}, nil
	}

	c, err := r.Complete(runCtx, iteration)
	if err != nil {
		return Decision{}, err
	}

	d := r.decide(runCtx, iteration, c.Assembled)
	d.Anomalies = c.Anomalies
	d.Usage = c.Usage

	return d, nil
}

// Completion is the assembled backend reply of one reasoning call.
type Completion struct {
	Assembled
	Anomalies int
	Usage     *model.TokenUsage
}

// Complete builds the request, calls the backend and assembles the reply
// without interpreting it. Backend failures are returned as
// *core.BackendError, cancellation as the context error.
func (r *Reasoner) Complete(runCtx *core.RunContext, iteration int) (Completion, error) {
	if err := runCtx.Err(); err != nil {
		return Completion{}, err
	}

	req := model.Request{Stream: r.opts.Stream, PlainText: r.opts.PlainText}
	for _, p := range r.processors {
		if err := p.ProcessRequest(runCtx, &req); err != nil {
			return Completion{}, errors.Wrapf(err, "request processor %s failed", p.Name())
		}
	}

	info := r.model.Info()

	runCtx.LogDebug("flow.reasoning.start",
		"run.id", runCtx.RunID,
		"iteration", iteration,
		"backend", info.Name,
		"stream", req.Stream,
		"transcript.turns", len(req.Transcript),
		"capabilities", len(req.Tools),
	)

	start := time.Now()

	asm := NewAssembler(func(o *AssemblerOptions) {
		o.Logger = runCtx.Logger()
		o.OnAnomaly = func(f model.Fragment) {
			r.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackOnAnomaly, &CallbackContext{
				RunContext: runCtx, Iteration: iteration, Fragment: &f,
			})
		}
		o.OnUsage = func(u model.TokenUsage) {
			r.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackOnUsage, &CallbackContext{
				RunContext: runCtx, Iteration: iteration, Usage: &u,
			})
		}
	})

	assembled, err := r.consume(runCtx.Context, req, asm)
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		if cl, ok := runCtx.Logger().(logging.CallLogger); ok {
			cl.LogBackendCall(info.Name, 0, time.Since(start), err)
		} else {
			runCtx.LogError("flow.reasoning.failed", "run.id", runCtx.RunID, "iteration", iteration, "backend", info.Name, "error", err.Error())
		}
		return Completion{}, core.NewBackendError(info.Name, err)
	}

	tokens := 0
	if u := asm.Usage(); u != nil {
		tokens = u.TotalTokens
	}

	if cl, ok := runCtx.Logger().(logging.CallLogger); ok {
		cl.LogBackendCall(info.Name, tokens, time.Since(start), nil)
	} else {
		runCtx.LogInfo("flow.reasoning.completed",
			"run.id", runCtx.RunID,
			"iteration", iteration,
			"backend", info.Name,
			"invocations", len(assembled.Invocations),
			"anomalies", asm.Anomalies(),
			"tokens", tokens,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return Completion{Assembled: assembled, Anomalies: asm.Anomalies(), Usage: asm.Usage()}, nil
}

// consume drains the backend channels into asm. A non-streamed message is
// assembled directly unless fragments were received as well.
func (r *Reasoner) consume(ctx context.Context, req model.Request, asm *Assembler) (Assembled, error) {
	respCh, errCh := r.model.Generate(ctx, req)

	var message *model.Message

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Assembled{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				asm.Add(resp.Fragment)
				continue
			}
			if !resp.Fragment.IsEmpty() {
				asm.Add(resp.Fragment)
			}
			if !resp.Message.IsEmpty() {
				m := resp.Message
				message = &m
			}
			if resp.Usage != nil {
				asm.Add(model.Fragment{Usage: resp.Usage})
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Assembled{}, err
			}
		}
	}

	if err := asm.Err(); err != nil {
		return Assembled{}, err
	}

	assembled := asm.Result()
	if assembled.IsEmpty() && message != nil {
		assembled = AssembleMessage(*message)
	}

	if assembled.IsEmpty() {
		return Assembled{}, core.ErrEmptyResponse
	}

	return assembled, nil
}

// decide normalizes assembled output into a Decision.
func (r *Reasoner) decide(runCtx *core.RunContext, iteration int, a Assembled) Decision {
	d := Decision{}

	switch {
	case len(a.Invocations) > 0:
		d.Kind, d.Source = DecisionInvoke, SourceStructured
		d.Invocations = fillIDs(a.Invocations)
	default:
		if answer, ok := splitFinal(a.Content, r.opts.FinalMarker); ok {
			d.Kind, d.Source, d.Answer = DecisionFinal, SourceMarker, answer
			break
		}

		for _, p := range r.opts.Parsers {
			if tp := p.Parse(a.Content); tp.Recovered {
				inv := tp.Invocation
				inv.Slot = 0
				d.Kind, d.Source = DecisionInvoke, SourceRecovered
				d.Invocations = fillIDs([]core.InvocationRequest{inv})
				runCtx.LogDebug("flow.reasoning.recovered", "run.id", runCtx.RunID, "parser", p.Name(), "capability", inv.Name)
				break
			}
		}

		if d.Kind == DecisionInvoke {
			break
		}

		d.Kind, d.Source, d.Answer = DecisionFinal, SourceImplicit, a.Content
	}

	var turnInvs []core.InvocationRequest
	if d.Kind == DecisionInvoke {
		turnInvs = d.Invocations
	}
	d.Turn = core.NewAssistantTurn(a.Content, a.FullReasoning(), turnInvs)

	if d.Source == SourceImplicit {
		runCtx.LogDebug("flow.reasoning.implicit_final", "run.id", runCtx.RunID, "iteration", iteration, "length", len(a.Content))
		r.opts.Callbacks.notify(runCtx.Context, runCtx.Logger(), CallbackOnImplicitFinal, &CallbackContext{
			RunContext: runCtx, Iteration: iteration, Decision: &d,
		})
	}

	return d
}

// fillIDs returns a copy of invs where empty or repeated ids are replaced by
// generated call ids.
func fillIDs(invs []core.InvocationRequest) []core.InvocationRequest {
	out := make([]core.InvocationRequest, len(invs))
	seen := make(map[string]struct{}, len(invs))

	for i, inv := range invs {
		if _, dup := seen[inv.ID]; inv.ID == "" || dup {
			inv.ID = "call_" + core.NewID()
		}
		seen[inv.ID] = struct{}{}
		out[i] = inv
	}

	return out
}

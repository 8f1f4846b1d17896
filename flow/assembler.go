package flow

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// Assembled is the output of one reasoning turn after all fragments have
// been folded. Streamed and non-streamed responses produce the same shape.
type Assembled struct {
	Invocations []core.InvocationRequest
	Content     string
	Reasoning   string

	// LateReasoning holds reasoning deltas received after content began.
	LateReasoning string
}

// FullReasoning returns the reasoning text including late deltas.
func (a Assembled) FullReasoning() string { return a.Reasoning + a.LateReasoning }

// IsEmpty reports whether the turn produced nothing at all.
func (a Assembled) IsEmpty() bool {
	return len(a.Invocations) == 0 && a.Content == "" && a.Reasoning == "" && a.LateReasoning == ""
}

// DefaultMaxSlots bounds the tool-call index a single turn may reference.
const DefaultMaxSlots = 256

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	Logger logging.Logger

	// MaxSlots is the exclusive upper bound for tool-call indexes.
	MaxSlots int

	// OnAnomaly is called for every reasoning fragment received after the
	// content phase began.
	OnAnomaly func(f model.Fragment)

	// OnUsage is called for every usage record.
	OnUsage func(u model.TokenUsage)
}

// Assembler folds an ordered stream of fragments into invocation requests,
// content and reasoning text.
//
// Slots are allocated lazily when first referenced and never removed. A
// tool-call delta with a negative index or one at or above MaxSlots is
// malformed: it is dropped and reported by Err. Every delta is appended to
// its field in arrival order, for the id as well. Once a fragment without a
// tool-call delta carries content, the turn is in the content phase and
// stays there: later reasoning deltas go to LateReasoning and are counted
// as anomalies. Usage records never touch assembled state.
//
// An Assembler is used by a single goroutine for a single turn.
type Assembler struct {
	opts AssemblerOptions

	slots map[int]*core.InvocationRequest
	err   error

	content   strings.Builder
	reasoning strings.Builder
	late      strings.Builder

	contentPhase bool
	anomalies    int
	fragments    int
	usage        *model.TokenUsage
}

// NewAssembler creates an empty Assembler.
func NewAssembler(optFns ...func(o *AssemblerOptions)) *Assembler {
	opts := AssemblerOptions{Logger: logging.NoOpLogger{}, MaxSlots: DefaultMaxSlots}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.MaxSlots <= 0 {
		opts.MaxSlots = DefaultMaxSlots
	}

	return &Assembler{
		opts:  opts,
		slots: map[int]*core.InvocationRequest{},
	}
}

// Add folds one fragment.
func (a *Assembler) Add(f model.Fragment) {
	if f.Usage != nil {
		u := *f.Usage
		a.usage = &u
		if a.opts.OnUsage != nil {
			a.opts.OnUsage(u)
		}
	}

	if f.ToolCall == nil && f.Reasoning == "" && f.Content == "" {
		return
	}

	a.fragments++

	if f.Reasoning != "" {
		if a.contentPhase {
			a.late.WriteString(f.Reasoning)
			a.anomalies++
			a.opts.Logger.Warn("flow.assembler.late_reasoning", "fragment", a.fragments, "length", len(f.Reasoning))
			if a.opts.OnAnomaly != nil {
				a.opts.OnAnomaly(f)
			}
		} else {
			a.reasoning.WriteString(f.Reasoning)
		}
	}

	if f.Content != "" {
		a.content.WriteString(f.Content)
		if f.ToolCall == nil {
			a.contentPhase = true
		}
	}

	if tc := f.ToolCall; tc != nil {
		inv, err := a.slot(tc.Index)
		if err != nil {
			a.opts.Logger.Warn("flow.assembler.malformed_fragment", "fragment", a.fragments, "index", tc.Index, "error", err.Error())
			if a.err == nil {
				a.err = err
			}
			return
		}
		inv.ID += tc.ID
		inv.Name += tc.Name
		inv.RawArguments += tc.Arguments
	}
}

// slot returns the request for index, allocating only that slot.
func (a *Assembler) slot(index int) (*core.InvocationRequest, error) {
	if index < 0 || index >= a.opts.MaxSlots {
		return nil, errors.Wrapf(core.ErrMalformedFragment, "tool call index %d outside [0, %d)", index, a.opts.MaxSlots)
	}

	inv, ok := a.slots[index]
	if !ok {
		inv = &core.InvocationRequest{Slot: index}
		a.slots[index] = inv
	}

	return inv, nil
}

// Err returns the first malformed-fragment error, if any.
func (a *Assembler) Err() error { return a.err }

// Result returns the assembled turn. Indexes never referenced produce no
// invocation; referenced slots are returned in slot order.
func (a *Assembler) Result() Assembled {
	indexes := make([]int, 0, len(a.slots))
	for i := range a.slots {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	var invs []core.InvocationRequest
	for _, i := range indexes {
		invs = append(invs, *a.slots[i])
	}

	return Assembled{
		Invocations:   invs,
		Content:       a.content.String(),
		Reasoning:     a.reasoning.String(),
		LateReasoning: a.late.String(),
	}
}

// Anomalies returns the number of reasoning fragments received after the
// content phase began.
func (a *Assembler) Anomalies() int { return a.anomalies }

// Usage returns the last usage record, if any.
func (a *Assembler) Usage() *model.TokenUsage { return a.usage }

// Fragments returns the number of data-carrying fragments folded so far.
func (a *Assembler) Fragments() int { return a.fragments }

// AssembleMessage is the direct-construction path for non-streamed replies:
// tool call i becomes slot i.
func AssembleMessage(msg model.Message) Assembled {
	var invs []core.InvocationRequest
	for i, tc := range msg.ToolCalls {
		invs = append(invs, core.InvocationRequest{
			Slot:         i,
			ID:           tc.ID,
			Name:         tc.Name,
			RawArguments: tc.Arguments,
		})
	}

	return Assembled{
		Invocations: invs,
		Content:     msg.Content,
		Reasoning:   msg.Reasoning,
	}
}

package flow

import (
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	internalutil "github.com/hupe1980/agentloop/internal/util"
	"github.com/hupe1980/agentloop/model"
)

// RequestProcessor contributes one aspect of a backend request. Processors
// run in registration order before every reasoning step.
type RequestProcessor interface {
	Name() string
	ProcessRequest(runCtx *core.RunContext, req *model.Request) error
}

// Capabilities is the read side of a capability registry.
type Capabilities interface {
	Lookup(name string) (capability.Capability, bool)
	Descriptors() []capability.Descriptor
}

// InstructionsProcessor renders the system instructions as a text/template
// with the run scratchpad as data.
type InstructionsProcessor struct {
	instructions string
}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor(instructions string) *InstructionsProcessor {
	return &InstructionsProcessor{instructions: instructions}
}

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets the request instructions.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request) error {
	if p.instructions == "" {
		return nil
	}

	rendered, err := internalutil.RenderTemplate(p.instructions, runCtx.State())
	if err != nil {
		return errors.Wrap(err, "failed to render instructions")
	}

	runCtx.LogDebug("flow.instructions.resolved", "run.id", runCtx.RunID, "length", len(rendered))

	req.Instructions = rendered

	return nil
}

// CapabilitiesProcessor exposes the registered capability descriptors.
type CapabilitiesProcessor struct {
	caps Capabilities
}

// NewCapabilitiesProcessor creates a new capabilities processor.
func NewCapabilitiesProcessor(caps Capabilities) *CapabilitiesProcessor {
	return &CapabilitiesProcessor{caps: caps}
}

// Name returns the processor's identifier.
func (p *CapabilitiesProcessor) Name() string { return "capabilities" }

// ProcessRequest sets the request tools.
func (p *CapabilitiesProcessor) ProcessRequest(_ *core.RunContext, req *model.Request) error {
	if p.caps == nil {
		return nil
	}

	req.Tools = p.caps.Descriptors()

	return nil
}

// TranscriptProcessor copies the conversation into the request, keeping at
// most maxTurns recent turns (0 keeps all).
type TranscriptProcessor struct {
	maxTurns int
}

// NewTranscriptProcessor creates a new transcript processor.
func NewTranscriptProcessor(maxTurns int) *TranscriptProcessor {
	return &TranscriptProcessor{maxTurns: maxTurns}
}

// Name returns the processor's identifier.
func (p *TranscriptProcessor) Name() string { return "transcript" }

// ProcessRequest sets the request transcript.
func (p *TranscriptProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request) error {
	req.Transcript = trimTranscript(runCtx.Conversation.Turns(), p.maxTurns)
	return nil
}

// trimTranscript keeps the last max turns without starting inside an
// observation block, which backends cannot pair with its invocations.
func trimTranscript(turns []core.Turn, max int) []core.Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}

	start := len(turns) - max
	for start < len(turns) && turns[start].Role == core.RoleObservation {
		start++
	}

	return turns[start:]
}

// DefaultProcessors returns the standard processor chain.
func DefaultProcessors(instructions string, caps Capabilities, maxTurns int) []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(instructions),
		NewCapabilitiesProcessor(caps),
		NewTranscriptProcessor(maxTurns),
	}
}

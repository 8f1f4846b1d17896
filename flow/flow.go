// Package flow implements the orchestration loop of agentloop.
//
// One run alternates a reasoning step (Reasoner: call the backend, fold the
// streamed fragments with an Assembler, normalize the reply into a Decision)
// with an action step (Executor: run the requested invocations concurrently
// and return their results in slot order). The Controller owns the state
// machine and the iteration ceiling; the PlanController layers
// plan-and-execute on top of it.
package flow

import (
	"github.com/cockroachdb/errors"
)

// Mode selects the protocol the backend speaks.
type Mode string

const (
	// ModeFunction uses native structured tool calls.
	ModeFunction Mode = "function"
	// ModeReAct recovers `Action:` / `Action Input:` pairs from free text.
	ModeReAct Mode = "react"
	// ModeCodeAct recovers fenced code blocks and runs them through a
	// code-execution capability.
	ModeCodeAct Mode = "codeact"
)

// ParseMode validates a mode name. The empty string selects ModeFunction.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFunction:
		return ModeFunction, nil
	case ModeReAct, ModeCodeAct:
		return Mode(s), nil
	default:
		return "", errors.Newf("unknown mode %q", s)
	}
}

// ModeConfig carries the mode specific inputs of SelectReasonerOptions.
type ModeConfig struct {
	Mode Mode

	// CodeLanguage and CodeCapability configure ModeCodeAct.
	CodeLanguage   string
	CodeCapability string
}

// SelectReasonerOptions returns the reasoner option function for a mode.
// Free-text modes render the transcript as text and register the matching
// parser; ModeCodeAct also accepts ReAct actions.
func SelectReasonerOptions(cfg ModeConfig) func(o *ReasonerOptions) {
	return func(o *ReasonerOptions) {
		switch cfg.Mode {
		case ModeReAct:
			o.PlainText = true
			o.Parsers = append(o.Parsers, NewReActParser())
		case ModeCodeAct:
			lang, capName := cfg.CodeLanguage, cfg.CodeCapability
			if lang == "" {
				lang = "go"
			}
			if capName == "" {
				capName = "execute_" + lang
			}
			o.PlainText = true
			o.Parsers = append(o.Parsers, NewCodeBlockParser(lang, capName), NewReActParser())
		}
	}
}

package core

// StepResult pairs an executed plan step with its outcome.
type StepResult struct {
	Step   string `json:"step"`
	Result string `json:"result"`
}

// PlanState tracks a plan-and-execute run. RemainingSteps is replaced
// wholesale after every planning decision (last writer wins); CompletedSteps
// only grows.
type PlanState struct {
	Goal           string       `json:"goal"`
	RemainingSteps []string     `json:"remaining_steps"`
	CompletedSteps []StepResult `json:"completed_steps"`
	FinalResponse  *string      `json:"final_response,omitempty"`
}

// NewPlanState creates a plan state for goal with an optional initial plan.
func NewPlanState(goal string, steps []string) *PlanState {
	return &PlanState{Goal: goal, RemainingSteps: append([]string(nil), steps...)}
}

// ReplaceSteps replaces the remaining steps with a copy of steps.
func (p *PlanState) ReplaceSteps(steps []string) {
	p.RemainingSteps = append([]string(nil), steps...)
}

// Complete records the outcome of an executed step.
func (p *PlanState) Complete(step, result string) {
	p.CompletedSteps = append(p.CompletedSteps, StepResult{Step: step, Result: result})
}

// Respond records the final response, terminating the plan.
func (p *PlanState) Respond(response string) { p.FinalResponse = &response }

// Done reports whether a final response has been recorded.
func (p *PlanState) Done() bool { return p.FinalResponse != nil }

// NextStep returns the first remaining step.
func (p *PlanState) NextStep() (string, bool) {
	if len(p.RemainingSteps) == 0 {
		return "", false
	}
	return p.RemainingSteps[0], true
}

// LastResult returns the result of the most recently completed step.
func (p *PlanState) LastResult() (string, bool) {
	if len(p.CompletedSteps) == 0 {
		return "", false
	}
	return p.CompletedSteps[len(p.CompletedSteps)-1].Result, true
}

// Package core provides the foundational domain types shared by every
// orchestration loop in agentloop. It defines:
//
//   - Turns (immutable transcript entries authored by the user, the assistant
//     or an observation of a capability result)
//   - InvocationRequest / InvocationResult (capability calls and their outcomes)
//   - Conversation (the append-only transcript owned by exactly one run)
//   - PlanState (goal, remaining and completed steps for plan-and-execute runs)
//   - RunContext / CallContext (scoped execution state for loops and capabilities)
//   - The LoopError taxonomy surfaced to callers
//
// The package keeps orchestration (flow), backends (model) and capability
// dispatch (capability) out of scope so they can evolve independently.
package core

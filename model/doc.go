// Package model defines the provider agnostic abstractions for interacting
// with reasoning backends inside agentloop.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Stream raw, slot indexed Fragments so invocation requests can be
//     reassembled downstream regardless of how a provider chunks them
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface so the loop
// controller stays decoupled from vendor SDKs.
package model

// Package session houses concrete implementations of core.TranscriptStore.
// The interface itself lives in the core package so that the loop packages
// never depend on concrete storage.
//
// Additional backends (Redis, Postgres, ...) belong in sub-packages; only
// the wiring layer decides which implementation to instantiate.
package session

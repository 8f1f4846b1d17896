// Package code provides the executors behind code-execution capabilities.
package code

import "context"

// Executor defines the interface for executing code snippets.
type Executor interface {
	// Execute runs the given code snippet and returns its output or an error.
	// Implementations must return promptly once ctx is done.
	Execute(ctx context.Context, code string) (string, error)

	// Language returns the fenced-block language tag the executor accepts
	// (e.g. "go").
	Language() string
}

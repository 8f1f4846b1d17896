// Package logging provides a minimal logging interface and adapters for agentloop.
//
// The Logger interface defines the leveled logging methods (Debug, Info, Warn,
// Error) that the controller, executor and backends use for observability.
// Arguments are alternating key/value pairs in the style of log/slog. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a *zap.Logger
//   - ZerologAdapter wrapping a zerolog.Logger
//   - RunLogger with run scoped attributes and loop specific helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	agent := agentloop.New(backend, registry, agentloop.WithLogger(logger))
package logging

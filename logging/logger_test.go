package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLevel("bogus"))
}

func TestRunLogger_KeyValueAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("controller").
		WithRun("r1")

	l.Info("loop.iteration", "iteration", 3, "dangling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "loop.iteration", entry["msg"])
	assert.Equal(t, "controller", entry["component"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.EqualValues(t, 3, entry["iteration"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}

func TestRunLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestRunLogger_WithContextDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Output: &buf})
	_ = base.WithContext("k", "v")

	base.Info("plain")
	assert.NotContains(t, buf.String(), `"k"`)
}

func TestRunLogger_CallHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Output: &buf}).WithRun("r1")

	l.LogCapabilityCall("search", time.Millisecond, "execution-error")
	l.LogBackendCall("openai", 42, time.Second, nil)
	l.LogLoopExecution(2, time.Second, "completed", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var msgs []string
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "r1", entry["run_id"])
		msgs = append(msgs, entry["msg"].(string))
	}
	assert.Equal(t, []string{"flow.capability.failed", "flow.reasoning.completed", "flow.loop.failed"}, msgs)
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Warn("capability.missing", "name", "lookup")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "capability.missing", entries[0].Message)
	assert.Equal(t, "lookup", entries[0].ContextMap()["name"])

	assert.NotPanics(t, func() { NewZapAdapter(nil).Info("noop") })
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapter(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("hidden")
	l.Error("backend.failed", "error", errors.New("down"), "attempt", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "backend.failed", entry["message"])
	assert.Equal(t, "down", entry["error"])
	assert.EqualValues(t, 1, entry["attempt"])
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() { l.Error("x", "k", "v") })
}

package flow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

var _ logging.Logger = (*recordingLogger)(nil)

func TestCallbackManager_NilIsNoop(t *testing.T) {
	var cm *CallbackManager
	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnError, &CallbackContext{}))
}

func TestCallbackManager_OrderAndFirstErrorStops(t *testing.T) {
	var calls []string

	cm := NewCallbackManager(
		NewFunctionCallback(CallbackBeforeReasoning, func(_ context.Context, cc *CallbackContext) error {
			calls = append(calls, "first:"+string(cc.CallbackType))
			return errors.New("stop")
		}),
		NewFunctionCallback(CallbackBeforeReasoning, func(_ context.Context, _ *CallbackContext) error {
			calls = append(calls, "second")
			return nil
		}),
	)

	err := cm.ExecuteCallbacks(context.Background(), CallbackBeforeReasoning, &CallbackContext{})
	require.EqualError(t, err, "stop")
	assert.Equal(t, []string{"first:before_reasoning"}, calls)

	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackAfterReasoning, &CallbackContext{}))
}

func TestCallbacks_BeforeReasoningVetoAbortsRun(t *testing.T) {
	reg := capability.NewRegistry(nil)
	m := model.NewScriptedModelFromMessages(model.Message{Content: "x"})

	ctrl := NewController(NewReasoner(m, DefaultProcessors("", reg, 0)), NewExecutor(reg), reg, func(o *ControllerOptions) {
		o.Callbacks = NewCallbackManager(NewFunctionCallback(CallbackBeforeReasoning, func(_ context.Context, _ *CallbackContext) error {
			return errors.New("budget exhausted")
		}))
	})

	_, err := ctrl.Run(context.Background(), "q")

	var le *core.LoopError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "callback", le.Op)
	assert.Zero(t, m.Calls())
}

func TestCallbacks_LifecycleAndLogging(t *testing.T) {
	logger := &recordingLogger{}

	var (
		mu    sync.Mutex
		types []CallbackType
	)
	record := func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, cc.CallbackType)
		return nil
	}

	callbacks := NewCallbackManager()
	for _, ct := range []CallbackType{CallbackBeforeReasoning, CallbackAfterReasoning, CallbackBeforeCapability, CallbackAfterCapability} {
		callbacks.RegisterCallback(NewFunctionCallback(ct, record))
		callbacks.RegisterCallback(NewLoggingCallback(ct, logger))
	}

	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	m := model.NewScriptedModelFromMessages(
		model.Message{ToolCalls: []model.ToolCall{{ID: "a", Name: "get_closing_price", Arguments: `{"ticker":"A"}`}}},
		model.Message{Content: "67.92"},
	)

	ctrl := NewController(
		NewReasoner(m, DefaultProcessors("", reg, 0), func(o *ReasonerOptions) { o.Callbacks = callbacks }),
		NewExecutor(reg, func(o *ExecutorOptions) { o.Callbacks = callbacks }),
		reg,
		func(o *ControllerOptions) {
			o.Callbacks = callbacks
			o.Logger = logger
		},
	)

	_, err := ctrl.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, []CallbackType{
		CallbackBeforeReasoning, CallbackAfterReasoning,
		CallbackBeforeCapability, CallbackAfterCapability,
		CallbackBeforeReasoning, CallbackAfterReasoning,
	}, types)

	msgs := logger.messages()
	assert.Contains(t, msgs, "flow.callback")
	assert.Contains(t, msgs, "flow.loop.start")
	assert.Contains(t, msgs, "flow.loop.completed")
}

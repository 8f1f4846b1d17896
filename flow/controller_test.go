package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/code"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

func TestController_ClosingPriceScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, stream := range []bool{false, true} {
		t.Run(fmt.Sprintf("stream=%v", stream), func(t *testing.T) {
			reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
			m, opt := scripted(stream, closingPriceScript()...)

			res, err := newController(m, reg, 0, opt).Run(context.Background(), "whose closing price is higher, A or B?")
			require.NoError(t, err)

			assert.Equal(t, StatusCompleted, res.Status)
			assert.Equal(t, SourceImplicit, res.Source)
			assert.Contains(t, res.Answer, "B")
			assert.Equal(t, 2, res.Iterations)
			assert.True(t, reg.Sealed())

			turns := res.Conversation.Turns()
			require.Len(t, turns, 5)

			assert.Equal(t, core.RoleUser, turns[0].Role)

			assert.Equal(t, core.RoleAssistant, turns[1].Role)
			require.Len(t, turns[1].Invocations, 2)
			assert.Equal(t, "I need both closing prices.", turns[1].Reasoning)

			assert.Equal(t, core.RoleObservation, turns[2].Role)
			assert.Equal(t, "call_a", turns[2].Result.RequestID)
			assert.Equal(t, "67.92", turns[2].Result.Output)

			assert.Equal(t, core.RoleObservation, turns[3].Role)
			assert.Equal(t, "call_b", turns[3].Result.RequestID)
			assert.Equal(t, "1488.21", turns[3].Result.Output)

			assert.True(t, turns[4].IsFinal())
			assert.True(t, res.Conversation.IsTerminated())

			second := m.Requests()[1]
			require.Len(t, second.Transcript, 4)
			assert.Equal(t, core.RoleObservation, second.Transcript[3].Role)
		})
	}
}

func TestController_UnknownCapabilityContinues(t *testing.T) {
	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	m, opt := scripted(true,
		model.Message{ToolCalls: []model.ToolCall{{ID: "x", Name: "get_opening_price", Arguments: `{"ticker":"A"}`}}},
		model.Message{ToolCalls: []model.ToolCall{{ID: "y", Name: "get_closing_price", Arguments: `{"ticker":"A"}`}}},
		model.Message{Content: "A closed at 67.92."},
	)

	res, err := newController(m, reg, 0, opt).Run(context.Background(), "price of A?")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Iterations)

	turns := res.Conversation.Turns()
	require.Len(t, turns, 6)
	assert.Equal(t, core.KindCapabilityNotFound, turns[2].Result.Kind)
	assert.Equal(t, "capability get_opening_price not found", turns[2].Result.Output)
	assert.Equal(t, core.KindOK, turns[4].Result.Kind)
}

func TestController_IterationCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})

	var msgs []model.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, model.Message{
			Content:   fmt.Sprintf("checking again (%d)", i),
			ToolCalls: []model.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "get_closing_price", Arguments: `{"ticker":"A"}`}},
		})
	}

	for _, ceiling := range []int{1, 3, 10} {
		m := model.NewScriptedModelFromMessages(msgs...)

		res, err := newController(m, reg, ceiling).Run(context.Background(), "loop forever")
		require.NoError(t, err)

		assert.Equal(t, StatusIterationLimit, res.Status)
		assert.True(t, res.Partial())
		assert.Equal(t, ceiling, m.Calls(), "never more reasoning cycles than the ceiling")
		assert.Equal(t, ceiling, res.Iterations)
		assert.Equal(t, fmt.Sprintf("checking again (%d)", ceiling-1), res.Answer)
		assert.Empty(t, res.Conversation.PendingInvocations())
	}
}

func TestController_DefaultCeiling(t *testing.T) {
	reg := capability.NewRegistry(nil)

	var msgs []model.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, model.Message{ToolCalls: []model.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "missing"}}})
	}
	m := model.NewScriptedModelFromMessages(msgs...)

	res, err := newController(m, reg, 0).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StatusIterationLimit, res.Status)
	assert.Equal(t, DefaultMaxIterations, m.Calls())
	assert.Equal(t, "capability missing not found", res.Answer)
}

func TestController_BackendErrorAborts(t *testing.T) {
	var reported error

	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	m := model.NewScriptedModel([]model.ScriptStep{
		{Message: closingPriceScript()[0]},
		{Err: errors.New("connection reset")},
	})

	ctrl := NewController(
		NewReasoner(m, DefaultProcessors("", reg, 0)),
		NewExecutor(reg),
		reg,
		func(o *ControllerOptions) {
			o.Callbacks = NewCallbackManager(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
				reported = cc.Err
				return nil
			}))
		},
	)

	res, err := ctrl.Run(context.Background(), "q")
	require.Error(t, err)
	assert.Nil(t, res)

	var le *core.LoopError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "reasoning", le.Op)
	assert.Equal(t, 2, le.Iteration)
	assert.True(t, core.IsBackendError(err))
	assert.Equal(t, err, reported)
}

func TestController_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entered := make(chan struct{})
	blocking := capability.NewFunction("wait", "", nil, func(cc *core.CallContext, _ map[string]any) (string, error) {
		close(entered)
		<-cc.Context().Done()
		return "", cc.Context().Err()
	})

	reg := capability.NewRegistry([]capability.Capability{blocking})
	m := model.NewScriptedModelFromMessages(
		model.Message{ToolCalls: []model.ToolCall{{ID: "w", Name: "wait"}}},
		model.Message{Content: "never reached"},
	)

	go func() {
		<-entered
		cancel()
	}()

	runCtx := core.NewRunContext(ctx, "", core.NewConversationFromQuery("q"), 0, nil)
	_, err := newController(m, reg, 0).Execute(runCtx)

	var le *core.LoopError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "action", le.Op)
	assert.ErrorIs(t, err, context.Canceled)

	// assistant turn was appended, no observation was
	assert.Equal(t, 2, runCtx.Conversation.Len())
	assert.Len(t, runCtx.Conversation.PendingInvocations(), 1)
	assert.Equal(t, 1, m.Calls())
}

func TestController_ReplayTerminatedConversation(t *testing.T) {
	reg := capability.NewRegistry(nil)
	m, _ := scripted(false, model.Message{Content: "Final Answer: 42"})

	ctrl := newController(m, reg, 0)
	runCtx := core.NewRunContext(context.Background(), "", core.NewConversationFromQuery("q"), 0, nil)

	first, err := ctrl.Execute(runCtx)
	require.NoError(t, err)
	assert.Equal(t, "42", first.Answer)

	again := core.NewRunContext(context.Background(), runCtx.RunID, runCtx.Conversation, 0, nil)
	second, err := ctrl.Execute(again)
	require.NoError(t, err)

	assert.Equal(t, "42", second.Answer)
	assert.Equal(t, SourceReplay, second.Source)
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, 2, runCtx.Conversation.Len())
}

func TestController_ReActMode(t *testing.T) {
	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	m, opt := scripted(true,
		model.Message{Content: "Thought: I need A.\nAction: get_closing_price\nAction Input: {\"ticker\": \"A\"}"},
		model.Message{Content: "Thought: I need B.\nAction: get_closing_price\nAction Input: {\"ticker\": \"B\"}"},
		model.Message{Content: "Thought: I know now.\nFinal Answer: B is higher"},
	)

	res, err := newController(m, reg, 0, opt, SelectReasonerOptions(ModeConfig{Mode: ModeReAct})).Run(context.Background(), "whose closing price is higher, A or B?")
	require.NoError(t, err)

	assert.Equal(t, "B is higher", res.Answer)
	assert.Equal(t, SourceMarker, res.Source)

	turns := res.Conversation.Turns()
	require.Len(t, turns, 6)
	assert.Equal(t, "67.92", turns[2].Result.Output)
	assert.Equal(t, "1488.21", turns[4].Result.Output)

	for _, req := range m.Requests() {
		assert.True(t, req.PlainText)
	}
}

func TestController_CodeActMode(t *testing.T) {
	reg := capability.NewRegistry([]capability.Capability{
		capability.NewCodeExecution(code.NewGoInterpreter()),
	})

	m, opt := scripted(false,
		model.Message{Content: "Let me compute.\n```go\n1488.21 > 67.92\n```"},
		model.Message{Content: "Final Answer: B"},
	)

	res, err := newController(m, reg, 0, opt, SelectReasonerOptions(ModeConfig{Mode: ModeCodeAct})).Run(context.Background(), "is B higher?")
	require.NoError(t, err)
	assert.Equal(t, "B", res.Answer)

	turns := res.Conversation.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "execute_go", turns[1].Invocations[0].Name)
	assert.Equal(t, core.KindOK, turns[2].Result.Kind)
	assert.Equal(t, "true", turns[2].Result.Output)
}

func TestController_UsageIsAccumulated(t *testing.T) {
	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability()})
	script := closingPriceScript()
	m := model.NewScriptedModel([]model.ScriptStep{
		{Message: script[0], Usage: &model.TokenUsage{TotalTokens: 10}},
		{Message: script[1], Usage: &model.TokenUsage{TotalTokens: 5}},
	})

	res, err := newController(m, reg, 0).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 15, res.Usage.TotalTokens)
}

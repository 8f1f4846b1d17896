package flow

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

var closingPrices = map[string]string{"A": "67.92", "B": "1488.21"}

type priceArgs struct {
	Ticker string `json:"ticker" jsonschema:"description=Ticker symbol"`
}

func closingPriceCapability() capability.Capability {
	return capability.NewTyped("get_closing_price", "Return the last closing price of a ticker",
		func(_ *core.CallContext, in priceArgs) (string, error) {
			price, ok := closingPrices[in.Ticker]
			if !ok {
				return "", fmt.Errorf("unknown ticker %s", in.Ticker)
			}
			return price, nil
		})
}

func newRunContext(t *testing.T, query string, maxIterations int) *core.RunContext {
	t.Helper()
	return core.NewRunContext(context.Background(), "run-"+t.Name(), core.NewConversationFromQuery(query), maxIterations, logging.NoOpLogger{})
}

func newController(m model.Model, reg *capability.Registry, maxIterations int, reasonerOpts ...func(o *ReasonerOptions)) *Controller {
	reasoner := NewReasoner(m, DefaultProcessors("You are a helpful assistant.", reg, 0), reasonerOpts...)
	executor := NewExecutor(reg)
	return NewController(reasoner, executor, reg, func(o *ControllerOptions) {
		o.MaxIterations = maxIterations
	})
}

// closingPriceScript is the two-invocation comparison exchange.
func closingPriceScript() []model.Message {
	return []model.Message{
		{
			Reasoning: "I need both closing prices.",
			ToolCalls: []model.ToolCall{
				{ID: "call_a", Name: "get_closing_price", Arguments: `{"ticker":"A"}`},
				{ID: "call_b", Name: "get_closing_price", Arguments: `{"ticker":"B"}`},
			},
		},
		{Content: "B has the higher closing price (1488.21 vs 67.92)."},
	}
}

func scripted(stream bool, msgs ...model.Message) (*model.ScriptedModel, func(o *ReasonerOptions)) {
	return model.NewScriptedModelFromMessages(msgs...), func(o *ReasonerOptions) { o.Stream = stream }
}

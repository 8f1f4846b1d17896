package main

import (
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentloop/config"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/model/anthropic"
	"github.com/hupe1980/agentloop/model/openai"
)

// newBackend returns the run model and the planner model. Live providers
// use one model for both; the scripted provider replays a canned closing
// price comparison for the configured mode.
func newBackend(cfg *config.Config, planning, draftPlan bool) (model.Model, model.Model, error) {
	switch cfg.Provider {
	case "openai":
		var opts []option.RequestOption
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		client := openaisdk.NewClient(opts...)

		m := openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		})

		return m, m, nil
	case "anthropic":
		m := anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
		})

		return m, m, nil
	default:
		if planning {
			return scriptedPlanWorker(), scriptedPlanner(draftPlan), nil
		}

		m := scriptedRun(cfg.Mode)

		return m, m, nil
	}
}

func scriptedRun(mode string) *model.ScriptedModel {
	switch mode {
	case "react":
		return model.NewScriptedModelFromMessages(
			model.Message{Content: "Thought: I need the closing price of A.\nAction: get_closing_price\nAction Input: {\"ticker\": \"A\"}"},
			model.Message{Content: "Thought: Now B.\nAction: get_closing_price\nAction Input: \"B\""},
			model.Message{Content: "Thought: 1488.21 is more than 67.92.\nFinal Answer: B has the higher closing price (1488.21 vs 67.92)."},
		)
	case "codeact":
		return model.NewScriptedModelFromMessages(
			model.Message{Content: "Let me compare the two prices.\n```go\n1488.21 > 67.92\n```"},
			model.Message{Content: "Final Answer: B has the higher closing price."},
		)
	default:
		return model.NewScriptedModelFromMessages(
			model.Message{
				Reasoning: "I need both closing prices.",
				ToolCalls: []model.ToolCall{
					{ID: "call_a", Name: "get_closing_price", Arguments: `{"ticker":"A"}`},
					{ID: "call_b", Name: "get_closing_price", Arguments: `{"ticker":"B"}`},
				},
			},
			model.Message{Content: "B has the higher closing price (1488.21 vs 67.92)."},
		)
	}
}

func scriptedPlanWorker() *model.ScriptedModel {
	return model.NewScriptedModelFromMessages(
		model.Message{ToolCalls: []model.ToolCall{{ID: "call_a", Name: "get_closing_price", Arguments: `{"ticker":"A"}`}}},
		model.Message{Content: "67.92"},
		model.Message{ToolCalls: []model.ToolCall{{ID: "call_b", Name: "get_closing_price", Arguments: `{"ticker":"B"}`}}},
		model.Message{Content: "1488.21"},
	)
}

func scriptedPlanner(draft bool) *model.ScriptedModel {
	var msgs []model.Message
	if draft {
		msgs = append(msgs, model.Message{Content: `{"type":"plan","steps":["get the closing price of A","get the closing price of B"]}`})
	}

	return model.NewScriptedModelFromMessages(append(msgs,
		model.Message{Content: `{"type":"plan","steps":["get the closing price of B"]}`},
		model.Message{Content: "```json\n{\"type\":\"response\",\"response\":\"B has the higher closing price (1488.21 vs 67.92).\"}\n```"},
	)...)
}

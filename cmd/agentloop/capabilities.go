package main

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/code"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
)

// closingPrices is the static quote table behind get_closing_price.
var closingPrices = map[string]string{
	"A":      "67.92",
	"B":      "1488.21",
	"600519": "1488.21",
	"AAPL":   "227.52",
}

type closingPriceArgs struct {
	Ticker string `json:"ticker,omitempty" jsonschema:"description=Ticker symbol such as AAPL"`
	// Input is what free-text modes produce for a quoted action input.
	Input string `json:"input,omitempty" jsonschema:"description=Alias of ticker"`
}

func getClosingPrice(_ *core.CallContext, in closingPriceArgs) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker == "" {
		ticker = strings.ToUpper(strings.TrimSpace(in.Input))
	}

	price, ok := closingPrices[ticker]
	if !ok {
		return "", errors.Newf("no closing price for %q", ticker)
	}

	return price, nil
}

func demoCapabilities(logger logging.Logger) *capability.Registry {
	return capability.NewRegistry([]capability.Capability{
		capability.NewTyped("get_closing_price", "Return the last closing price of a ticker.", getClosingPrice),
		capability.NewCodeExecution(code.NewGoInterpreter()),
		capability.NewScratchpad(),
	}, func(o *capability.RegistryOptions) {
		o.Logger = logger
	})
}

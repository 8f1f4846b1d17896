package capability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
)

// HandlerFunc is the signature of a plain capability handler.
type HandlerFunc func(cc *core.CallContext, args map[string]any) (string, error)

// FunctionCapability exposes a plain Go function as a capability.
//
// It validates arguments against its schema before calling the handler and
// normalizes failures to *Error:
//
//	*Error (returned by the handler) -> forwarded unchanged
//	validation failure               -> *Error{Code: VALIDATION_ERROR}
//	other error                      -> *Error{Code: EXECUTION_ERROR}
//
// A FunctionCapability has no mutable state after construction and is safe
// for concurrent use.
type FunctionCapability struct {
	name        string
	description string
	parameters  map[string]any
	fn          HandlerFunc
}

// NewFunction constructs a FunctionCapability from an explicit schema and handler.
//
// Example:
//
//	price := capability.NewFunction(
//	  "get_closing_price",
//	  "Return the last closing price of a ticker",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{"ticker": map[string]any{"type": "string"}},
//	    "required": []string{"ticker"},
//	  },
//	  func(cc *core.CallContext, args map[string]any) (string, error) {
//	    return lookup(args["ticker"].(string))
//	  },
//	)
func NewFunction(name, description string, parameters map[string]any, fn HandlerFunc) *FunctionCapability {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &FunctionCapability{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewTyped derives the schema from T via reflection and decodes the
// arguments into a T before calling fn.
//
// Example:
//
//	type PriceArgs struct {
//	  Ticker string `json:"ticker" jsonschema:"description=Ticker symbol"`
//	}
//
//	price := capability.NewTyped("get_closing_price", "Return the last closing price",
//	  func(cc *core.CallContext, in PriceArgs) (string, error) { return lookup(in.Ticker) })
func NewTyped[T any](name, description string, fn func(cc *core.CallContext, in T) (string, error)) *FunctionCapability {
	var zero T

	return NewFunction(name, description, util.CreateSchema(zero), func(cc *core.CallContext, args map[string]any) (string, error) {
		var in T
		if err := decodeArgs(args, &in); err != nil {
			return "", &Error{Capability: name, Message: err.Error(), Code: CodeValidation}
		}
		return fn(cc, in)
	})
}

func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "encode arguments")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode arguments")
	}
	return nil
}

// Name returns the unique capability name.
func (c *FunctionCapability) Name() string { return c.name }

// Description returns the short natural language description exposed to backends.
func (c *FunctionCapability) Description() string { return c.description }

// Parameters returns the JSON schema describing expected arguments.
func (c *FunctionCapability) Parameters() map[string]any { return c.parameters }

// Call validates args against the schema then invokes the handler.
func (c *FunctionCapability) Call(cc *core.CallContext, args map[string]any) (string, error) {
	logger := cc.Logger()
	start := time.Now()

	logger.Debug("capability.call.start", "capability", c.name, "invocation_id", cc.InvocationID())

	if err := util.ValidateParameters(args, c.parameters); err != nil {
		logger.Warn("capability.call.validation_failed", "capability", c.name, "error", err.Error())

		return "", &Error{
			Capability: c.name,
			Message:    fmt.Sprintf("parameter validation failed: %v", err),
			Code:       CodeValidation,
			Details:    err,
		}
	}

	result, err := c.fn(cc, args)
	if err != nil {
		var capErr *Error
		if errors.As(err, &capErr) {
			logger.Warn("capability.call.error", "capability", c.name, "error", capErr.Message)
			return "", capErr
		}

		logger.Warn("capability.call.error", "capability", c.name, "error", err.Error())

		return "", &Error{Capability: c.name, Message: err.Error(), Code: CodeExecution}
	}

	logger.Debug("capability.call.success", "capability", c.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// Package capability implements the invocation targets of the action step:
// named handlers with schema validated arguments, consistent error codes and
// the descriptors handed to the reasoning backend.
package capability

import (
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/util"
	"github.com/hupe1980/agentloop/model"
)

// Capability is a named, externally invocable action.
//
// Implementations must be safe for concurrent use: the executor runs all
// invocations of one turn in parallel, possibly several against the same
// capability.
type Capability interface {
	// Name returns the unique identifier (snake_case recommended).
	Name() string

	// Description is shown to the backend to explain when to use the capability.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the capability with already parsed arguments. The
	// returned text becomes the observation recorded in the transcript.
	Call(cc *core.CallContext, args map[string]any) (string, error)
}

// Descriptor is the backend facing description of a capability.
type Descriptor = model.ToolDefinition

// DescriptorOf builds the descriptor of c.
func DescriptorOf(c Capability) Descriptor {
	return Descriptor{Name: c.Name(), Description: c.Description(), Parameters: c.Parameters()}
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes used by Error.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// Error represents a failure while executing a capability.
type Error struct {
	Capability string `json:"capability"`        // Name of the capability that failed
	Message    string `json:"message"`           // Error message
	Code       string `json:"code"`              // Error code for categorization
	Details    any    `json:"details,omitempty"` // Additional error details
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

// NewError creates a new Error with the specified details.
func NewError(capability, message, code string) *Error {
	return &Error{Capability: capability, Message: message, Code: code}
}

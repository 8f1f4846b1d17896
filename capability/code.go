package capability

import (
	"fmt"

	"github.com/hupe1980/agentloop/code"
	"github.com/hupe1980/agentloop/core"
)

// CodeArgs are the arguments of a code-execution capability.
type CodeArgs struct {
	Code string `json:"code" jsonschema:"description=Source code to execute"`
}

// NewCodeExecution wraps a code executor as a capability named
// "execute_<language>". Executor failures become execution errors whose
// message includes any partial output.
func NewCodeExecution(exec code.Executor) *FunctionCapability {
	lang := exec.Language()
	name := "execute_" + lang
	desc := fmt.Sprintf("Execute a %s program and return its standard output.", lang)

	return NewTyped(name, desc, func(cc *core.CallContext, in CodeArgs) (string, error) {
		out, err := exec.Execute(cc.Context(), in.Code)
		if err != nil {
			if out != "" {
				return "", fmt.Errorf("%w\noutput:\n%s", err, out)
			}
			return "", err
		}
		if out == "" {
			return "(no output)", nil
		}
		return out, nil
	})
}

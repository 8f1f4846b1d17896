package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// ScratchpadArgs are the arguments of the scratchpad capability.
type ScratchpadArgs struct {
	Operation string `json:"operation" jsonschema:"description=One of get set list,enum=get,enum=set,enum=list"`
	Key       string `json:"key,omitempty" jsonschema:"description=State key for get and set"`
	Value     any    `json:"value,omitempty" jsonschema:"description=Value for set (any JSON value)"`
}

// NewScratchpad returns a capability that lets the backend keep notes in the
// run's key/value state across iterations.
func NewScratchpad() *FunctionCapability {
	return NewTyped("scratchpad",
		"Store and recall intermediate values for this run. Operations: get, set, list.",
		func(cc *core.CallContext, in ScratchpadArgs) (string, error) {
			switch in.Operation {
			case "get":
				if in.Key == "" {
					return "", NewError("scratchpad", "key is required for get", CodeValidation)
				}
				v, ok := cc.GetState(in.Key)
				if !ok {
					return fmt.Sprintf("no value stored under %q", in.Key), nil
				}
				return render(v), nil
			case "set":
				if in.Key == "" {
					return "", NewError("scratchpad", "key is required for set", CodeValidation)
				}
				cc.SetState(in.Key, in.Value)
				cc.Logger().Debug("capability.scratchpad.set", "key", in.Key, "invocation_id", cc.InvocationID())
				return fmt.Sprintf("stored %q", in.Key), nil
			case "list":
				return listKeys(cc), nil
			default:
				return "", NewError("scratchpad", fmt.Sprintf("unknown operation %q", in.Operation), CodeValidation)
			}
		})
}

func listKeys(cc *core.CallContext) string {
	rc, ok := cc.RunContext()
	if !ok {
		return ""
	}
	state := rc.State()
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return "(empty)"
	}
	return strings.Join(keys, ", ")
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

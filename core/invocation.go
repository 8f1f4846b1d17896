package core

// InvocationRequest describes one capability call requested by the reasoning
// backend. Streaming backends build Name, RawArguments and even ID
// incrementally from fragments addressed to the same Slot.
type InvocationRequest struct {
	Slot         int    `json:"slot"`                // Position in the turn's invocation set
	ID           string `json:"id,omitempty"`        // Correlation token (may be generated)
	Name         string `json:"name"`                // Capability name
	RawArguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON object)
}

// ResultKind classifies the outcome of an invocation.
type ResultKind int

const (
	// KindOK means the capability returned successfully.
	KindOK ResultKind = iota
	// KindCapabilityNotFound means no capability is registered under the requested name.
	KindCapabilityNotFound
	// KindArgumentParseError means the raw arguments were not a valid JSON object.
	KindArgumentParseError
	// KindExecutionError means the capability failed, panicked or timed out.
	KindExecutionError
)

// String returns the string representation of the result kind.
func (k ResultKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindCapabilityNotFound:
		return "capability-not-found"
	case KindArgumentParseError:
		return "argument-parse-error"
	case KindExecutionError:
		return "execution-error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON transcripts.
func (k ResultKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// InvocationResult is the outcome of a single InvocationRequest.
type InvocationResult struct {
	RequestID string     `json:"request_id"`
	Name      string     `json:"name"`
	Output    string     `json:"output"`
	Kind      ResultKind `json:"kind"`
}

// IsError reports whether the invocation did not complete successfully.
func (r InvocationResult) IsError() bool { return r.Kind != KindOK }

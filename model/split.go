package model

// SplitMessage renders a complete message as the fragment stream a streaming
// backend could have produced for it, cutting every text field into pieces of
// at most size bytes. Reasoning comes first, then content, then each tool call
// in slot order (id, name and arguments chunks). A size <= 0 emits each field
// whole.
func SplitMessage(msg Message, size int) []Fragment {
	var frags []Fragment

	for _, s := range chunk(msg.Reasoning, size) {
		frags = append(frags, Fragment{Reasoning: s})
	}

	for _, s := range chunk(msg.Content, size) {
		frags = append(frags, Fragment{Content: s})
	}

	for i, tc := range msg.ToolCalls {
		frags = append(frags, Fragment{ToolCall: &ToolCallDelta{Index: i}})
		for _, s := range chunk(tc.ID, size) {
			frags = append(frags, Fragment{ToolCall: &ToolCallDelta{Index: i, ID: s}})
		}
		for _, s := range chunk(tc.Name, size) {
			frags = append(frags, Fragment{ToolCall: &ToolCallDelta{Index: i, Name: s}})
		}
		for _, s := range chunk(tc.Arguments, size) {
			frags = append(frags, Fragment{ToolCall: &ToolCallDelta{Index: i, Arguments: s}})
		}
	}

	return frags
}

func chunk(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	out := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}

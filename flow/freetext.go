package flow

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// DefaultFinalMarker introduces the final answer in free-text protocols.
const DefaultFinalMarker = "Final Answer:"

// TextParse is the tagged outcome of free-text invocation recovery. When
// Recovered is false the text did not contain a usable action; that is
// never an error.
type TextParse struct {
	Recovered  bool
	Invocation core.InvocationRequest
}

// TextParser recovers a single invocation from assistant text.
type TextParser interface {
	Name() string
	Parse(text string) TextParse
}

var (
	reactAction = regexp.MustCompile(`Action:\s*([A-Za-z0-9_.\-]+)`)
	reactInput  = regexp.MustCompile(`Action Input:\s*`)
)

// ReActParser recovers `Action: <name>` / `Action Input: <json>` pairs.
//
// The input may be a JSON object or a JSON string; a string is wrapped as
// {"input": "<string>"}. An input that starts like JSON but fails to decode
// is passed on verbatim so the action step reports an argument parse error.
type ReActParser struct{}

// NewReActParser creates a ReActParser.
func NewReActParser() *ReActParser { return &ReActParser{} }

// Name returns the parser identifier.
func (p *ReActParser) Name() string { return "react" }

// Parse implements TextParser.
func (p *ReActParser) Parse(text string) TextParse {
	m := reactAction.FindStringSubmatchIndex(text)
	if m == nil {
		return TextParse{}
	}

	name := text[m[2]:m[3]]

	loc := reactInput.FindStringIndex(text[m[1]:])
	if loc == nil {
		return TextParse{}
	}

	rest := strings.TrimSpace(text[m[1]+loc[1]:])

	args, ok := decodeActionInput(rest)
	if !ok {
		return TextParse{}
	}

	return TextParse{
		Recovered:  true,
		Invocation: core.InvocationRequest{Name: name, RawArguments: args},
	}
}

// decodeActionInput extracts the leading JSON value of s. Only objects and
// strings qualify.
func decodeActionInput(s string) (string, bool) {
	if s == "" {
		return "", false
	}

	switch s[0] {
	case '{':
		dec := json.NewDecoder(strings.NewReader(s))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Not decodable: hand over the first line for the parse error.
			line, _, _ := strings.Cut(s, "\n")
			return line, true
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw), true
		}
		return buf.String(), true
	case '"':
		dec := json.NewDecoder(strings.NewReader(s))
		var str string
		if err := dec.Decode(&str); err != nil {
			return "", false
		}
		b, err := json.Marshal(map[string]string{"input": str})
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return "", false
	}
}

// CodeBlockParser recovers a fenced code block in a designated language and
// maps it to a code-execution capability with {"code": "<block>"}.
type CodeBlockParser struct {
	language   string
	capability string
	fence      *regexp.Regexp
}

// NewCodeBlockParser creates a parser for ```<language> blocks invoking
// capability.
func NewCodeBlockParser(language, capability string) *CodeBlockParser {
	return &CodeBlockParser{
		language:   language,
		capability: capability,
		fence:      regexp.MustCompile("(?s)```" + regexp.QuoteMeta(language) + "[ \t]*\r?\n(.*?)```"),
	}
}

// Name returns the parser identifier.
func (p *CodeBlockParser) Name() string { return "codeblock:" + p.language }

// Parse implements TextParser. Only the first block is recovered.
func (p *CodeBlockParser) Parse(text string) TextParse {
	m := p.fence.FindStringSubmatch(text)
	if m == nil {
		return TextParse{}
	}

	src := strings.TrimSpace(m[1])
	if src == "" {
		return TextParse{}
	}

	b, err := json.Marshal(map[string]string{"code": src})
	if err != nil {
		return TextParse{}
	}

	return TextParse{
		Recovered:  true,
		Invocation: core.InvocationRequest{Name: p.capability, RawArguments: string(b)},
	}
}

// splitFinal returns the text following marker, if present.
func splitFinal(text, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}

	_, after, found := strings.Cut(text, marker)
	if !found {
		return "", false
	}

	return strings.TrimSpace(after), true
}

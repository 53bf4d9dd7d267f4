package conversation

import (
	"bytes"
	"encoding/json"
	"strings"

	"toolcall/internal/command"
)

// BuildSystemPrompt renders the default system prompt for models without
// native tool-call emission: it lists every registered capability and pins
// the tagged-block wire format the scanner recognizes.
func BuildSystemPrompt(specs []command.Spec) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(`
You are a helpful assistant running locally on the user's device. You can use
tools by emitting a tool call directly in your response, formatted exactly as:

<tool_call>{"name": "<tool name>", "arguments": {...}}</tool_call>

Emit at most one tool call at a time and nothing after it; the result will be
provided to you in a follow-up message, and you then answer the user in plain
language. Only call a tool when it is needed to answer.

Available tools:
`))
	sb.WriteString("\n")
	for _, spec := range specs {
		sb.WriteString("\n- ")
		sb.WriteString(spec.Tool)
		sb.WriteString(": ")
		sb.WriteString(spec.Description)
		if len(spec.Schema) > 0 {
			sb.WriteString("\n  arguments schema: ")
			sb.WriteString(compactJSON(spec.Schema))
		}
	}
	return sb.String()
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

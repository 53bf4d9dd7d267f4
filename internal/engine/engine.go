// Package engine abstracts the inference engine that produces the token
// stream. The engine knows nothing about tool directives; it just emits text
// fragments, and the conversation layer scans them.
package engine

import "context"

// events ------------------------------------------------------------------------------------------

type Event any

// ContentDeltaEvent carries one text fragment exactly as generated.
type ContentDeltaEvent struct {
	Content string
}

type UsageEvent struct {
	Usage Usage
}

type ErrorEvent struct {
	Err error
}

// messages ----------------------------------------------------------------------------------------

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleUser      Role = "user"
)

type Message struct {
	Role    Role
	Content string
	Tool    string // tool identifier for RoleTool messages, "" otherwise
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// engine ------------------------------------------------------------------------------------------

type streamConfig struct {
	maxTokens   int
	temperature float64
}

type StreamOption func(*streamConfig)

func WithMaxTokens(maxTokens int) StreamOption {
	return func(c *streamConfig) { c.maxTokens = maxTokens }
}
func WithTemperature(temperature float64) StreamOption {
	return func(c *streamConfig) { c.temperature = temperature }
}

// Engine streams one generation. The channel is closed when the generation
// finishes; an ErrorEvent (including ctx cancellation) ends the stream.
type Engine interface {
	Stream(ctx context.Context, messages []Message, opts ...StreamOption) <-chan Event
}

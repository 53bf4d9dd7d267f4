// Package conversation drives the loop between the inference engine and the
// capability dispatcher: stream fragments through the scanner, decode
// completed directives, dispatch them, feed the results back as tool
// messages, and ask the engine to continue so the model can narrate them.
package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"toolcall/internal/command"
	"toolcall/internal/dispatch"
	"toolcall/internal/engine"
	"toolcall/internal/logger"
	"toolcall/internal/scanner"
)

type Event any

// ChangeEvent signals that the transcript changed (new narrative text, a
// tool result, usage totals).
type ChangeEvent struct{}

// ToolCallEvent signals that a directive was decoded and dispatched. Err is
// set when the directive was rejected or the capability failed.
type ToolCallEvent struct {
	Tool string
	Err  error
}

type ErrorEvent struct {
	Err error
}

// Transcript persists messages as they are appended. history.Store satisfies
// it; tests substitute fakes.
type Transcript interface {
	AppendMessage(ctx context.Context, conversationID string, msg engine.Message) error
}

const defaultMaxTurns = 8

type Option func(*Conversation)

func WithSystem(system string) Option {
	return func(c *Conversation) { c.system = system }
}

func WithMaxTurns(maxTurns int) Option {
	return func(c *Conversation) {
		if maxTurns > 0 {
			c.maxTurns = maxTurns
		}
	}
}

func WithTranscript(transcript Transcript, conversationID string) Option {
	return func(c *Conversation) {
		c.transcript = transcript
		c.id = conversationID
	}
}

func WithStreamOptions(opts ...engine.StreamOption) Option {
	return func(c *Conversation) { c.streamOptions = opts }
}

// Conversation owns its scanner exclusively; two conversations never share
// scan state. All fragment processing is sequential: scan, decode, await the
// capability, feed back, resume generation.
type Conversation struct {
	mux           sync.RWMutex
	logger        logger.Logger
	engine        engine.Engine
	registry      *dispatch.Registry
	scanner       *scanner.Scanner
	transcript    Transcript
	id            string
	system        string
	maxTurns      int
	streamOptions []engine.StreamOption

	running  bool
	messages []engine.Message
	usage    engine.Usage
	sealed   bool // trailing assistant message already written to the transcript

	subscriptions []*subscription
}

// subscription pairs the event channel with a done signal so a subscriber
// that stops receiving can still unsubscribe without deadlocking notify.
type subscription struct {
	events chan Event
	done   chan struct{}
}

func New(logger logger.Logger, eng engine.Engine, registry *dispatch.Registry, opts ...Option) *Conversation {
	c := &Conversation{
		logger:   logger,
		engine:   eng,
		registry: registry,
		scanner:  scanner.New(),
		maxTurns: defaultMaxTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.system == "" {
		c.system = BuildSystemPrompt(registry.Specs())
	}
	return c
}

func (c *Conversation) Subscribe() (<-chan Event, func()) {
	sub := &subscription{events: make(chan Event), done: make(chan struct{})}
	c.mux.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	c.mux.Unlock()
	return sub.events, func() {
		// closing done first releases any notify currently blocked on the
		// send; only then can the write lock be acquired
		close(sub.done)
		c.mux.Lock()
		for i, s := range c.subscriptions {
			if s == sub {
				c.subscriptions = slices.Delete(c.subscriptions, i, i+1)
				break
			}
		}
		c.mux.Unlock()
		close(sub.events)
	}
}

func (c *Conversation) Reset() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.running = false
	c.messages = nil
	c.usage = engine.Usage{}
	c.sealed = false
	c.scanner.Reset()
}

func (c *Conversation) GetState() ([]engine.Message, engine.Usage) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return slices.Clone(c.messages), c.usage
}

func (c *Conversation) Running() bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.running
}

// Send starts processing one user message in the background. Subscribers are
// notified as the transcript changes.
func (c *Conversation) Send(ctx context.Context, text string) {
	go c.send(ctx, text)
}

func (c *Conversation) send(ctx context.Context, text string) {
	c.mux.Lock()
	if c.running {
		c.mux.Unlock()
		return
	}
	c.running = true
	c.mux.Unlock()
	defer func() {
		c.mux.Lock()
		c.running = false
		c.mux.Unlock()
		c.notify(&ChangeEvent{})
	}()
	c.append(ctx, engine.Message{Role: engine.RoleUser, Content: text})
	for turn := 0; turn < c.maxTurns; turn++ {
		dispatched, err := c.streamTurn(ctx)
		if err != nil {
			c.notify(&ErrorEvent{Err: err})
			return
		}
		if !dispatched {
			return
		}
		// a tool result was fed back; issue a continuation generation so
		// the model can narrate it
	}
	c.logger.Error("conversation reached the turn limit (%d) with tools still pending", c.maxTurns)
}

// streamTurn runs one generation to completion. It returns whether any
// directive was dispatched during the turn (a continuation is then needed).
func (c *Conversation) streamTurn(ctx context.Context) (bool, error) {
	c.scanner.Reset()
	dispatched := false
	for event := range c.engine.Stream(ctx, c.promptedHistory(), c.streamOptions...) {
		switch e := event.(type) {
		case *engine.ContentDeltaEvent:
			for _, scanned := range c.scanner.Observe(e.Content) {
				c.handleScanEvent(ctx, scanned, &dispatched)
			}
		case *engine.UsageEvent:
			c.mux.Lock()
			c.usage.PromptTokens += e.Usage.PromptTokens
			c.usage.CompletionTokens += e.Usage.CompletionTokens
			c.mux.Unlock()
			c.notify(&ChangeEvent{})
		case *engine.ErrorEvent:
			// cancellation and transport errors both discard buffering
			// state; a partial directive must never execute
			c.scanner.Reset()
			return false, e.Err
		default:
			c.logger.Error("unknown engine event type: %T", e)
		}
	}
	if ctx.Err() != nil {
		c.scanner.Reset()
		return false, ctx.Err()
	}
	// generation finished: a still-open directive is flushed as a final
	// payload attempt and the decoder gets to reject it
	for _, scanned := range c.scanner.Flush() {
		c.handleScanEvent(ctx, scanned, &dispatched)
	}
	c.persistAssistant(ctx)
	return dispatched, nil
}

func (c *Conversation) handleScanEvent(ctx context.Context, scanned scanner.Event, dispatched *bool) {
	switch scanned.Kind {
	case scanner.KindNarrative:
		c.appendNarrative(scanned.Text)
		c.notify(&ChangeEvent{})
	case scanner.KindBuffering:
	case scanner.KindComplete:
		if ctx.Err() != nil {
			return
		}
		tool, result, err := c.execute(ctx, scanned)
		c.persistAssistant(ctx)
		c.append(ctx, engine.Message{Role: engine.RoleTool, Tool: tool, Content: result})
		c.notify(&ToolCallEvent{Tool: tool, Err: err})
		c.notify(&ChangeEvent{})
		*dispatched = true
	}
}

// execute decodes and dispatches one completed directive. Every failure kind
// becomes a readable result string fed back to the model exactly like a
// success, so the loop never stalls on a failed tool.
func (c *Conversation) execute(ctx context.Context, scanned scanner.Event) (string, string, error) {
	cmd, err := command.Decode(scanned.Payload, scanned.Format, c.registry)
	if err != nil {
		c.logger.Info("rejected %s directive: %v", scanned.Format, err)
		return "", fmt.Sprintf("Error: %v", err), err
	}
	c.logger.Debug("decoded %s directive for %s", scanned.Format, cmd.Tool())
	result, err := c.registry.Dispatch(ctx, cmd)
	if err != nil {
		return cmd.Tool(), fmt.Sprintf("Error: %v", err), err
	}
	return cmd.Tool(), result, nil
}

func (c *Conversation) appendNarrative(text string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if len(c.messages) == 0 || c.messages[len(c.messages)-1].Role != engine.RoleAssistant || c.sealed {
		c.messages = append(c.messages, engine.Message{Role: engine.RoleAssistant})
		c.sealed = false
	}
	c.messages[len(c.messages)-1].Content += text
}

func (c *Conversation) append(ctx context.Context, msg engine.Message) {
	c.mux.Lock()
	c.messages = append(c.messages, msg)
	c.mux.Unlock()
	c.persist(ctx, msg)
}

// persistAssistant writes the accumulated assistant narrative and seals it
// (a tool message follows, or the turn ended). A sealed message is never
// written again; narrative from a continuation turn starts a fresh message.
func (c *Conversation) persistAssistant(ctx context.Context) {
	c.mux.Lock()
	var msg *engine.Message
	if len(c.messages) > 0 && !c.sealed {
		if last := c.messages[len(c.messages)-1]; last.Role == engine.RoleAssistant && last.Content != "" {
			clone := last
			msg = &clone
			c.sealed = true
		}
	}
	c.mux.Unlock()
	if msg != nil {
		c.persist(ctx, *msg)
	}
}

func (c *Conversation) persist(ctx context.Context, msg engine.Message) {
	if c.transcript == nil {
		return
	}
	if err := c.transcript.AppendMessage(ctx, c.id, msg); err != nil {
		c.logger.Error("failed to persist message: %v", err)
	}
}

func (c *Conversation) notify(event Event) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	for _, sub := range c.subscriptions {
		select {
		case sub.events <- event:
		case <-sub.done:
		}
	}
}

func (c *Conversation) promptedHistory() []engine.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()
	messages := make([]engine.Message, 0, 1+len(c.messages))
	messages = append(messages, engine.Message{Role: engine.RoleSystem, Content: c.system})
	return append(messages, c.messages...)
}

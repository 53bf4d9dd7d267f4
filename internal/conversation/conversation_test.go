package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolcall/internal/command"
	"toolcall/internal/dispatch"
	"toolcall/internal/engine"
	"toolcall/internal/logger"
)

// fakeEngine replays scripted turns of fragments, one turn per Stream call.
type fakeEngine struct {
	mux   sync.Mutex
	turns [][]string
	calls int
}

func (f *fakeEngine) Stream(ctx context.Context, messages []engine.Message, opts ...engine.StreamOption) <-chan engine.Event {
	f.mux.Lock()
	var fragments []string
	if f.calls < len(f.turns) {
		fragments = f.turns[f.calls]
	}
	f.calls++
	f.mux.Unlock()
	ch := make(chan engine.Event)
	go func() {
		defer close(ch)
		for _, fragment := range fragments {
			select {
			case <-ctx.Done():
				ch <- &engine.ErrorEvent{Err: ctx.Err()}
				return
			default:
			}
			ch <- &engine.ContentDeltaEvent{Content: fragment}
		}
	}()
	return ch
}

type handlerCall struct {
	cmd command.Command
}

func testRegistry(t *testing.T, calls *[]handlerCall, results map[string]string, failures map[string]error) *dispatch.Registry {
	t.Helper()
	reg := dispatch.NewRegistry()
	for _, spec := range command.AllSpecs() {
		tool := spec.Tool
		require.NoError(t, reg.Register(spec, func(ctx context.Context, cmd command.Command) (string, error) {
			if calls != nil {
				*calls = append(*calls, handlerCall{cmd: cmd})
			}
			if err, ok := failures[tool]; ok {
				return "", err
			}
			if result, ok := results[tool]; ok {
				return result, nil
			}
			return "ok", nil
		}))
	}
	return reg
}

func toolMessages(messages []engine.Message) []engine.Message {
	var out []engine.Message
	for _, msg := range messages {
		if msg.Role == engine.RoleTool {
			out = append(out, msg)
		}
	}
	return out
}

func TestWeatherDirectiveDispatchedAndFedBack(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, map[string]string{"get_weather_data": "21C and clear"}, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<tool_call>{"name":"get_weather_data","arguments":{"location":"Paris"}}</tool_call>`},
		{"It is 21C and clear in Paris."},
	}}
	c := New(logger.NoOp(), eng, reg)
	c.send(context.Background(), "What's the weather in Paris?")

	require.Len(t, calls, 1)
	assert.Equal(t, command.Weather{Location: "Paris"}, calls[0].cmd)

	messages, _ := c.GetState()
	tools := toolMessages(messages)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather_data", tools[0].Tool)
	assert.Equal(t, "21C and clear", tools[0].Content, "tool result must be fed back verbatim")
	assert.Equal(t, engine.RoleAssistant, messages[len(messages)-1].Role)
	assert.Equal(t, "It is 21C and clear in Paris.", messages[len(messages)-1].Content)
}

func TestDirectiveSplitAcrossFragments(t *testing.T) {
	var calls []handlerCall
	notFound := errors.New("location not found")
	reg := testRegistry(t, &calls, nil, map[string]error{"get_weather_data": notFound})
	eng := &fakeEngine{turns: [][]string{
		{`<tool_call>{"name":"get_w`, `eather_data","arguments":{"location":""}}</tool_call>`},
		{"Sorry, I could not find that location."},
	}}
	c := New(logger.NoOp(), eng, reg)

	var events []Event
	sub, unsubscribe := c.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub {
			events = append(events, event)
		}
	}()

	c.send(context.Background(), "weather please")
	unsubscribe()
	<-done

	require.Len(t, calls, 1)
	assert.Equal(t, command.Weather{Location: ""}, calls[0].cmd)

	messages, _ := c.GetState()
	tools := toolMessages(messages)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0].Content, "location not found")

	var toolEvents []*ToolCallEvent
	for _, event := range events {
		if e, ok := event.(*ToolCallEvent); ok {
			toolEvents = append(toolEvents, e)
		}
	}
	require.Len(t, toolEvents, 1)
	var capErr *dispatch.CapabilityError
	require.ErrorAs(t, toolEvents[0].Err, &capErr)
	assert.Equal(t, "get_weather_data", capErr.Tool)
}

func TestRejectedDirectiveDoesNotCorruptTheNext(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, map[string]string{"get_location": "Helsinki, Finland"}, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<tool_call>{invalid json}</tool_call>`},
		{`<tool_call>{"name":"get_location","arguments":{}}</tool_call>`},
		{"You are in Helsinki."},
	}}
	c := New(logger.NoOp(), eng, reg)
	c.send(context.Background(), "where am I?")

	require.Len(t, calls, 1, "only the valid directive reaches a handler")
	assert.Equal(t, command.Location{}, calls[0].cmd)

	messages, _ := c.GetState()
	tools := toolMessages(messages)
	require.Len(t, tools, 2)
	assert.Contains(t, tools[0].Content, "Error:")
	assert.Contains(t, tools[0].Content, command.ErrParse.Error())
	assert.Equal(t, "Helsinki, Finland", tools[1].Content)
}

func TestInlineDirectiveTrailingNarrativePassesThrough(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, map[string]string{"search_duckduckgo": "result summary"}, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<|python_tag|>{"name":"search_duckduckgo","parameters":{"query":"x"}}<|eom_id|> trailing narrative`},
		{"Here is what I found."},
	}}
	c := New(logger.NoOp(), eng, reg)
	c.send(context.Background(), "search x")

	require.Len(t, calls, 1)
	assert.Equal(t, command.Search{Query: "x"}, calls[0].cmd)

	messages, _ := c.GetState()
	var narrative string
	for _, msg := range messages {
		if msg.Role == engine.RoleAssistant {
			narrative += msg.Content
		}
	}
	assert.Contains(t, narrative, " trailing narrative")
}

func TestUnterminatedDirectiveFlushedAndRejected(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, nil, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<tool_call>{"name":"get_w`},
		{"never mind"},
	}}
	c := New(logger.NoOp(), eng, reg)
	c.send(context.Background(), "hi")

	assert.Empty(t, calls, "a flushed partial payload must never execute")
	messages, _ := c.GetState()
	tools := toolMessages(messages)
	require.Len(t, tools, 1, "the flushed payload is rejected, not silently dropped")
	assert.Contains(t, tools[0].Content, command.ErrParse.Error())
}

func TestCancellationDiscardsBufferingWithoutDispatch(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	eng := &cancellingEngine{cancel: cancel}
	c := New(logger.NoOp(), eng, reg)
	c.send(ctx, "hi")

	assert.Empty(t, calls, "cancellation must never trigger a capability invocation")
	messages, _ := c.GetState()
	assert.Empty(t, toolMessages(messages))
}

// cancellingEngine emits half a directive and then cancels the context, like
// a host aborting generation mid-stream.
type cancellingEngine struct {
	cancel context.CancelFunc
}

func (f *cancellingEngine) Stream(ctx context.Context, messages []engine.Message, opts ...engine.StreamOption) <-chan engine.Event {
	ch := make(chan engine.Event)
	go func() {
		defer close(ch)
		ch <- &engine.ContentDeltaEvent{Content: `<tool_call>{"name":"get_location",`}
		f.cancel()
		ch <- &engine.ErrorEvent{Err: ctx.Err()}
	}()
	return ch
}

func TestSequentialDirectivesDoNotLeak(t *testing.T) {
	var calls []handlerCall
	reg := testRegistry(t, &calls, map[string]string{
		"get_weather_data": "rainy",
		"get_location":     "Oslo, Norway",
	}, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<tool_call>{"name":"get_weather_data","arguments":{"location":"Oslo"}}</tool_call>`},
		{`<tool_call>{"name":"get_location","arguments":{}}</tool_call>`},
		{"done"},
	}}
	c := New(logger.NoOp(), eng, reg)
	c.send(context.Background(), "hi")

	require.Len(t, calls, 2)
	assert.Equal(t, command.Weather{Location: "Oslo"}, calls[0].cmd)
	assert.Equal(t, command.Location{}, calls[1].cmd)
}

func TestTranscriptPersistence(t *testing.T) {
	reg := testRegistry(t, nil, map[string]string{"get_location": "Oslo, Norway"}, nil)
	eng := &fakeEngine{turns: [][]string{
		{"Checking. ", `<tool_call>{"name":"get_location","arguments":{}}</tool_call>`},
		{"You are in Oslo."},
	}}
	transcript := &fakeTranscript{}
	c := New(logger.NoOp(), eng, reg, WithTranscript(transcript, "conv-1"))
	c.send(context.Background(), "where am I?")

	var roles []engine.Role
	for _, msg := range transcript.messages {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []engine.Role{
		engine.RoleUser, engine.RoleAssistant, engine.RoleTool, engine.RoleAssistant,
	}, roles)
	assert.Equal(t, "conv-1", transcript.id)
}

type fakeTranscript struct {
	mux      sync.Mutex
	id       string
	messages []engine.Message
}

func (f *fakeTranscript) AppendMessage(ctx context.Context, conversationID string, msg engine.Message) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.id = conversationID
	f.messages = append(f.messages, msg)
	return nil
}

func TestContinuationNarrativePersistedOnce(t *testing.T) {
	reg := testRegistry(t, nil, map[string]string{"search_duckduckgo": "result summary"}, nil)
	eng := &fakeEngine{turns: [][]string{
		{`<|python_tag|>{"name":"search_duckduckgo","parameters":{"query":"x"}}<|eom_id|> trailing.`},
		{"Here is what I found."},
	}}
	transcript := &fakeTranscript{}
	c := New(logger.NoOp(), eng, reg, WithTranscript(transcript, "conv-1"))
	c.send(context.Background(), "search x")

	// the trailing narrative from the first turn and the continuation's
	// narrative must land as two rows, neither containing the other
	var assistant []string
	for _, msg := range transcript.messages {
		if msg.Role == engine.RoleAssistant {
			assistant = append(assistant, msg.Content)
		}
	}
	assert.Equal(t, []string{" trailing.", "Here is what I found."}, assistant)
}

func TestUnsubscribeWithoutDrainingDoesNotBlock(t *testing.T) {
	reg := testRegistry(t, nil, nil, nil)
	eng := &fakeEngine{turns: [][]string{{"one ", "two ", "three ", "four"}}}
	c := New(logger.NoOp(), eng, reg)
	sub, unsubscribe := c.Subscribe()
	go c.send(context.Background(), "hi")
	<-sub // take a single event, then stop receiving
	finished := make(chan struct{})
	go func() {
		unsubscribe()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe blocked while a notification was in flight")
	}
}

func TestBuildSystemPromptListsTools(t *testing.T) {
	prompt := BuildSystemPrompt(command.AllSpecs())
	assert.Contains(t, prompt, "<tool_call>")
	for _, spec := range command.AllSpecs() {
		assert.Contains(t, prompt, spec.Tool)
	}
}

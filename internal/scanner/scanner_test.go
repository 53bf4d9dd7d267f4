package scanner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	narrative string
	payloads  []string
	formats   []Format
}

func collect(events []Event, into *collected) {
	for _, ev := range events {
		switch ev.Kind {
		case KindNarrative:
			into.narrative += ev.Text
		case KindComplete:
			into.payloads = append(into.payloads, ev.Payload)
			into.formats = append(into.formats, ev.Format)
		}
	}
}

func run(s *Scanner, fragments ...string) collected {
	var c collected
	for _, fragment := range fragments {
		collect(s.Observe(fragment), &c)
	}
	collect(s.Flush(), &c)
	return c
}

func TestObservePlainNarrative(t *testing.T) {
	s := New()
	c := run(s, "The weather today ", "is quite nice.")
	assert.Equal(t, "The weather today is quite nice.", c.narrative)
	assert.Empty(t, c.payloads)
	assert.False(t, s.Buffering())
}

func TestObserveTaggedBlockSingleFragment(t *testing.T) {
	s := New()
	c := run(s, `Sure!<tool_call>{"name":"get_weather_data","arguments":{"location":"Paris"}}</tool_call>`)
	assert.Equal(t, "Sure!", c.narrative)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, `{"name":"get_weather_data","arguments":{"location":"Paris"}}`, c.payloads[0])
	assert.Equal(t, FormatTaggedBlock, c.formats[0])
}

func TestObserveInlineDirectiveTrailingNarrative(t *testing.T) {
	s := New()
	c := run(s, `<|python_tag|>{"name":"search_duckduckgo","parameters":{"query":"x"}}<|eom_id|> trailing narrative`)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, `{"name":"search_duckduckgo","parameters":{"query":"x"}}`, c.payloads[0])
	assert.Equal(t, FormatInlineDirective, c.formats[0])
	assert.Equal(t, " trailing narrative", c.narrative)
}

func TestChunkingInvariance(t *testing.T) {
	inputs := []string{
		`before <tool_call>{"name":"get_weather_data","arguments":{"location":"Paris"}}</tool_call> after`,
		`<|python_tag|>{"name":"search_duckduckgo","parameters":{"query":"golang"}}<|eom_id|>tail`,
	}
	for _, input := range inputs {
		whole := run(New(), input)
		require.Len(t, whole.payloads, 1)
		// every 2-way split
		for i := 1; i < len(input); i++ {
			c := run(New(), input[:i], input[i:])
			assert.Equal(t, whole.payloads, c.payloads, "split at %d", i)
			assert.Equal(t, whole.formats, c.formats, "split at %d", i)
			assert.Equal(t, whole.narrative, c.narrative, "split at %d", i)
		}
		// every 3-way split
		for i := 1; i < len(input)-1; i++ {
			for j := i + 1; j < len(input); j++ {
				c := run(New(), input[:i], input[i:j], input[j:])
				assert.Equal(t, whole.payloads, c.payloads, "split at %d,%d", i, j)
				assert.Equal(t, whole.narrative, c.narrative, "split at %d,%d", i, j)
			}
		}
	}
}

func TestMarkerSplitAcrossFragments(t *testing.T) {
	s := New()
	c := run(s, "ok <tool_", `call>{"name":"get_location","arguments":{}}</tool_`, "call> done")
	assert.Equal(t, "ok  done", c.narrative)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, `{"name":"get_location","arguments":{}}`, c.payloads[0])
}

func TestHeldPrefixReleasedWhenNotAMarker(t *testing.T) {
	s := New()
	c := run(s, "a < b ", "and a <to", "ken")
	assert.Equal(t, "a < b and a <token", c.narrative)
	assert.Empty(t, c.payloads)
}

func TestHeldPrefixReleasedOnFlush(t *testing.T) {
	s := New()
	var c collected
	collect(s.Observe("dangling <tool_"), &c)
	assert.Equal(t, "dangling ", c.narrative)
	collect(s.Flush(), &c)
	assert.Equal(t, "dangling <tool_", c.narrative)
}

func TestFormatTieBreakByFirstMarker(t *testing.T) {
	s := New()
	c := run(s, `<|python_tag|>{"a":1}<tool_call><|eom_id|>`)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, FormatInlineDirective, c.formats[0])
	assert.Equal(t, `{"a":1}<tool_call>`, c.payloads[0])
}

func TestCommittedFormatIgnoresOtherCloser(t *testing.T) {
	s := New()
	c := run(s, `<tool_call>{"x":"<|eom_id|>"}</tool_call>`)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, FormatTaggedBlock, c.formats[0])
	assert.Equal(t, `{"x":"<|eom_id|>"}`, c.payloads[0])
}

func TestSecondOpeningMarkerIsAccumulated(t *testing.T) {
	s := New()
	c := run(s, `<tool_call>{"a":<tool_call>1}</tool_call>`)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, `{"a":<tool_call>1}`, c.payloads[0])
}

func TestTwoDirectivesNoLeak(t *testing.T) {
	s := New()
	first := run(s, `<tool_call>{"name":"get_weather_data","arguments":{"location":"Oslo"}}</tool_call>`)
	require.Len(t, first.payloads, 1)
	assert.False(t, s.Buffering())
	second := run(s, `<tool_call>{"name":"get_location","arguments":{}}</tool_call>`)
	require.Len(t, second.payloads, 1)
	assert.Equal(t, `{"name":"get_location","arguments":{}}`, second.payloads[0])
}

func TestTwoDirectivesInOneFragment(t *testing.T) {
	s := New()
	c := run(s, `<tool_call>{"a":1}</tool_call>mid<tool_call>{"b":2}</tool_call>`)
	require.Len(t, c.payloads, 2)
	assert.Equal(t, `{"a":1}`, c.payloads[0])
	assert.Equal(t, `{"b":2}`, c.payloads[1])
	assert.Equal(t, "mid", c.narrative)
}

func TestFlushEmitsUnterminatedDirective(t *testing.T) {
	s := New()
	var c collected
	collect(s.Observe(`<tool_call>{"name":"get_w`), &c)
	assert.Empty(t, c.payloads)
	assert.True(t, s.Buffering())
	collect(s.Flush(), &c)
	require.Len(t, c.payloads, 1)
	assert.Equal(t, `{"name":"get_w`, c.payloads[0])
	assert.False(t, s.Buffering())
}

func TestResetDiscardsEverything(t *testing.T) {
	s := New()
	s.Observe(`<tool_call>{"name":"get_w`)
	require.True(t, s.Buffering())
	s.Reset()
	assert.False(t, s.Buffering())
	assert.Empty(t, s.Flush())
	c := run(s, `<tool_call>{"name":"get_location","arguments":{}}</tool_call>`)
	require.Len(t, c.payloads, 1)
}

func TestBufferingEventEmittedWhileOpen(t *testing.T) {
	s := New()
	events := s.Observe(`<tool_call>{"name":`)
	require.NotEmpty(t, events)
	assert.Equal(t, KindBuffering, events[len(events)-1].Kind)
	events = s.Observe(`"get_location"`)
	require.Len(t, events, 1)
	assert.Equal(t, KindBuffering, events[0].Kind)
}

func TestFormatString(t *testing.T) {
	for f, want := range map[Format]string{FormatTaggedBlock: "tagged-block", FormatInlineDirective: "inline-directive"} {
		assert.Equal(t, want, fmt.Sprint(f))
	}
}

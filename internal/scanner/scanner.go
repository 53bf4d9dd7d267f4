// Package scanner recognizes tool-call directives embedded in an
// incrementally arriving stream of text fragments. It buffers partial
// directives across arbitrary fragment boundaries and emits the raw payload
// once the closing marker of the opened wire format is seen. It knows
// nothing about payload validity; rejecting garbage is the decoder's job.
package scanner

import "strings"

type Format int

const (
	// FormatTaggedBlock is "<tool_call>" JSON "</tool_call>".
	FormatTaggedBlock Format = iota
	// FormatInlineDirective is "<|python_tag|>" JSON "<|eom_id|>", optionally
	// followed by narrative text.
	FormatInlineDirective
)

func (f Format) String() string {
	switch f {
	case FormatTaggedBlock:
		return "tagged-block"
	case FormatInlineDirective:
		return "inline-directive"
	}
	return "unknown"
}

const (
	taggedOpen  = "<tool_call>"
	taggedClose = "</tool_call>"
	inlineOpen  = "<|python_tag|>"
	inlineClose = "<|eom_id|>"
)

func openMarker(f Format) string {
	if f == FormatInlineDirective {
		return inlineOpen
	}
	return taggedOpen
}

func closeMarker(f Format) string {
	if f == FormatInlineDirective {
		return inlineClose
	}
	return taggedClose
}

type Kind int

const (
	// KindNarrative is ordinary text to be passed through unchanged.
	KindNarrative Kind = iota
	// KindBuffering means a directive is open and the fragment was consumed.
	KindBuffering
	// KindComplete carries the raw payload of a closed directive.
	KindComplete
)

type Event struct {
	Kind    Kind
	Text    string // narrative text (KindNarrative)
	Payload string // raw payload between the markers (KindComplete)
	Format  Format // wire format of the payload (KindComplete)
}

type state int

const (
	stateIdle state = iota
	stateBuffering
)

// Scanner is owned by exactly one conversation and must not be shared.
type Scanner struct {
	state  state
	format Format
	buf    string
	held   string // idle-state suffix that may be the start of an opening marker
}

func New() *Scanner {
	return &Scanner{}
}

// Buffering reports whether a directive is currently open.
func (s *Scanner) Buffering() bool {
	return s.state == stateBuffering
}

// Observe consumes one fragment and returns the events it produced, in
// order. A single fragment may legally yield several events: narrative
// before an opening marker, a completed payload, and trailing narrative (or
// even the start of a second directive) after the closing marker.
func (s *Scanner) Observe(fragment string) []Event {
	var events []Event
	s.consume(fragment, &events)
	return events
}

// Flush signals end of stream. A still-open directive is emitted as a final
// payload attempt rather than silently discarded; withheld idle text is
// released as narrative.
func (s *Scanner) Flush() []Event {
	var events []Event
	switch s.state {
	case stateIdle:
		if s.held != "" {
			events = append(events, Event{Kind: KindNarrative, Text: s.held})
			s.held = ""
		}
	case stateBuffering:
		events = append(events, Event{Kind: KindComplete, Payload: s.buf, Format: s.format})
		s.buf = ""
		s.state = stateIdle
	}
	return events
}

// Reset discards all accumulated state without emitting anything. Used on
// cancellation: a partial directive must never reach the dispatcher.
func (s *Scanner) Reset() {
	s.state = stateIdle
	s.buf = ""
	s.held = ""
}

func (s *Scanner) consume(text string, events *[]Event) {
	for {
		if s.state == stateIdle {
			text = s.held + text
			s.held = ""
			if text == "" {
				return
			}
			idx, format, ok := findOpen(text)
			if !ok {
				// withhold a trailing run that could turn out to be the
				// start of an opening marker in the next fragment
				keep := openPrefixLen(text)
				if keep > 0 {
					s.held = text[len(text)-keep:]
				}
				if narrative := text[:len(text)-keep]; narrative != "" {
					*events = append(*events, Event{Kind: KindNarrative, Text: narrative})
				}
				return
			}
			if idx > 0 {
				*events = append(*events, Event{Kind: KindNarrative, Text: text[:idx]})
			}
			s.state = stateBuffering
			s.format = format
			text = text[idx+len(openMarker(format)):]
			continue
		}
		// buffering: accumulate, then look for the closing marker of the
		// committed format only. A second opening marker is not special; it
		// is accumulated like any other content.
		s.buf += text
		text = ""
		if i := strings.Index(s.buf, closeMarker(s.format)); i >= 0 {
			payload := s.buf[:i]
			rest := s.buf[i+len(closeMarker(s.format)):]
			s.buf = ""
			s.state = stateIdle
			*events = append(*events, Event{Kind: KindComplete, Payload: payload, Format: s.format})
			if rest == "" {
				return
			}
			text = rest
			continue
		}
		*events = append(*events, Event{Kind: KindBuffering})
		return
	}
}

// findOpen returns the position and format of the earliest opening marker.
func findOpen(text string) (int, Format, bool) {
	ti := strings.Index(text, taggedOpen)
	ii := strings.Index(text, inlineOpen)
	switch {
	case ti < 0 && ii < 0:
		return 0, 0, false
	case ii < 0 || (ti >= 0 && ti <= ii):
		return ti, FormatTaggedBlock, true
	default:
		return ii, FormatInlineDirective, true
	}
}

// openPrefixLen returns the length of the longest suffix of text that is a
// proper prefix of either opening marker.
func openPrefixLen(text string) int {
	longest := 0
	for _, marker := range [...]string{taggedOpen, inlineOpen} {
		limit := min(len(marker)-1, len(text))
		for k := limit; k > longest; k-- {
			if strings.HasSuffix(text, marker[:k]) {
				longest = k
				break
			}
		}
	}
	return longest
}

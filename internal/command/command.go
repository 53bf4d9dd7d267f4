// Package command defines the closed set of typed tool commands and the
// decoding of raw directive payloads into them. A variant is always resolved
// from the tool identifier first and then validated against that variant's
// declared argument shape; which keys happen to be present never decides the
// variant.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Command is one decoded, validated tool invocation. Values are transient:
// constructed by Decode and consumed by a single dispatch.
type Command interface {
	Tool() string
}

type Weather struct {
	Location string
}

func (Weather) Tool() string { return "get_weather_data" }

type Search struct {
	Query string
}

func (Search) Tool() string { return "search_duckduckgo" }

type CalendarEvents struct {
	Day string // optional, e.g. "today" or "2026-08-23"
}

func (CalendarEvents) Tool() string { return "get_calendar_events" }

type Contacts struct {
	Name string
}

func (Contacts) Tool() string { return "get_contacts" }

type Location struct{}

func (Location) Tool() string { return "get_location" }

type PlayMusic struct {
	Title  string // optional
	Artist string // optional
}

func (PlayMusic) Tool() string { return "play_music" }

type HealthSummary struct{}

func (HealthSummary) Tool() string { return "get_health_summary" }

// Spec declares one tool: its identifier, a description shown to the model,
// a JSON schema for its arguments, and how a raw arguments object decodes
// into the typed variant. The shape is fixed at registration time.
type Spec struct {
	Tool        string
	Description string
	Schema      json.RawMessage
	decode      func(args gjson.Result) (Command, error)
}

// Catalog resolves a tool identifier to its Spec. The dispatcher's registry
// implements it, so the decoder and the dispatcher share one closed set.
type Catalog interface {
	Lookup(tool string) (Spec, bool)
}

type catalog map[string]Spec

func (c catalog) Lookup(tool string) (Spec, bool) {
	spec, ok := c[tool]
	return spec, ok
}

// NewCatalog builds a standalone catalog from specs. Mostly useful in tests;
// production code resolves against the dispatcher's registry.
func NewCatalog(specs ...Spec) Catalog {
	c := make(catalog, len(specs))
	for _, spec := range specs {
		c[spec.Tool] = spec
	}
	return c
}

// AllSpecs returns the full built-in command set.
func AllSpecs() []Spec {
	return []Spec{
		weatherSpec,
		searchSpec,
		calendarSpec,
		contactsSpec,
		locationSpec,
		musicSpec,
		healthSpec,
	}
}

// requireString validates that args carries field as a JSON string. An empty
// string is accepted; whether it is meaningful is the capability's call (an
// empty weather location, for example, fails at the provider, not here).
func requireString(args gjson.Result, tool, field string) (string, error) {
	v := args.Get(field)
	if !v.Exists() || v.Type != gjson.String {
		return "", fmt.Errorf("%w: %s requires a string %q argument", ErrInvalidArguments, tool, field)
	}
	return v.String(), nil
}

// optionalString validates that field, when present, is a JSON string.
func optionalString(args gjson.Result, tool, field string) (string, error) {
	v := args.Get(field)
	if !v.Exists() {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: %s argument %q must be a string", ErrInvalidArguments, tool, field)
	}
	return v.String(), nil
}

var weatherSpec = Spec{
	Tool:        "get_weather_data",
	Description: "Get the current weather and a short forecast for a location.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {"type": "string", "description": "City or place name, e.g. \"Paris\"."}
		},
		"required": ["location"]
	}`),
	decode: func(args gjson.Result) (Command, error) {
		location, err := requireString(args, "get_weather_data", "location")
		if err != nil {
			return nil, err
		}
		return Weather{Location: location}, nil
	},
}

var searchSpec = Spec{
	Tool:        "search_duckduckgo",
	Description: "Search the web with DuckDuckGo and return a short summary.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."}
		},
		"required": ["query"]
	}`),
	decode: func(args gjson.Result) (Command, error) {
		query, err := requireString(args, "search_duckduckgo", "query")
		if err != nil {
			return nil, err
		}
		return Search{Query: query}, nil
	},
}

var calendarSpec = Spec{
	Tool:        "get_calendar_events",
	Description: "List the user's upcoming calendar events.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"day": {"type": "string", "description": "Optional day filter, e.g. \"today\"."}
		}
	}`),
	decode: func(args gjson.Result) (Command, error) {
		day, err := optionalString(args, "get_calendar_events", "day")
		if err != nil {
			return nil, err
		}
		return CalendarEvents{Day: day}, nil
	},
}

var contactsSpec = Spec{
	Tool:        "get_contacts",
	Description: "Look up a contact by name.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Full or partial contact name."}
		},
		"required": ["name"]
	}`),
	decode: func(args gjson.Result) (Command, error) {
		name, err := requireString(args, "get_contacts", "name")
		if err != nil {
			return nil, err
		}
		return Contacts{Name: name}, nil
	},
}

var locationSpec = Spec{
	Tool:        "get_location",
	Description: "Get the user's current location.",
	Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
	decode: func(args gjson.Result) (Command, error) {
		return Location{}, nil
	},
}

var musicSpec = Spec{
	Tool:        "play_music",
	Description: "Play music, optionally a specific title and/or artist.",
	Schema: json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Optional song title."},
			"artist": {"type": "string", "description": "Optional artist name."}
		}
	}`),
	decode: func(args gjson.Result) (Command, error) {
		title, err := optionalString(args, "play_music", "title")
		if err != nil {
			return nil, err
		}
		artist, err := optionalString(args, "play_music", "artist")
		if err != nil {
			return nil, err
		}
		return PlayMusic{Title: title, Artist: artist}, nil
	},
}

var healthSpec = Spec{
	Tool:        "get_health_summary",
	Description: "Get a summary of today's health metrics (steps, heart rate, sleep).",
	Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
	decode: func(args gjson.Result) (Command, error) {
		return HealthSummary{}, nil
	},
}

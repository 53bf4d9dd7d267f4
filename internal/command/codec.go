package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"toolcall/internal/scanner"
)

var (
	// ErrParse means the candidate text is not a well-formed JSON object.
	ErrParse = errors.New("malformed tool payload")
	// ErrUnknownTool means the tool identifier is absent or not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments means the tool is known but its arguments fail the
	// declared shape.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

var residualMarkers = [...]string{
	"<tool_call>",
	"</tool_call>",
	"<|python_tag|>",
	"<|eom_id|>",
}

// Normalize trims whitespace and strips wire markers accidentally captured
// at either edge of the raw payload. It deliberately does not attempt any
// semantic JSON repair; broken JSON fails decoding instead.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	for _, marker := range residualMarkers {
		s = strings.TrimPrefix(s, marker)
		s = strings.TrimSuffix(s, marker)
	}
	return strings.TrimSpace(s)
}

// argumentsField returns the wire format's name for the arguments object.
func argumentsField(format scanner.Format) string {
	if format == scanner.FormatInlineDirective {
		return "parameters"
	}
	return "arguments"
}

// Decode normalizes the raw payload and decodes it into the typed command it
// denotes. The variant is resolved from the "name" field against the catalog
// and the arguments are then validated against that variant's shape.
func Decode(raw string, format scanner.Format, catalog Catalog) (Command, error) {
	candidate := Normalize(raw)
	if !gjson.Valid(candidate) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrParse)
	}
	root := gjson.Parse(candidate)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrParse, root.Type)
	}
	name := root.Get("name")
	if !name.Exists() || name.Type != gjson.String || name.String() == "" {
		return nil, fmt.Errorf("%w: missing tool name", ErrUnknownTool)
	}
	spec, ok := catalog.Lookup(name.String())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name.String())
	}
	args := root.Get(argumentsField(format))
	if args.Exists() && !args.IsObject() {
		return nil, fmt.Errorf("%w: %s %q must be an object", ErrInvalidArguments, spec.Tool, argumentsField(format))
	}
	return spec.decode(args)
}

// Encode renders cmd as a complete framed directive in the given wire
// format. Decoding the result yields an equal command.
func Encode(cmd Command, format scanner.Format) (string, error) {
	args, err := wireArgs(cmd)
	if err != nil {
		return "", err
	}
	obj := map[string]any{"name": cmd.Tool()}
	obj[argumentsField(format)] = args
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("error marshalling directive: %w", err)
	}
	if format == scanner.FormatInlineDirective {
		return "<|python_tag|>" + string(payload) + "<|eom_id|>", nil
	}
	return "<tool_call>" + string(payload) + "</tool_call>", nil
}

func wireArgs(cmd Command) (map[string]any, error) {
	args := map[string]any{}
	switch c := cmd.(type) {
	case Weather:
		args["location"] = c.Location
	case Search:
		args["query"] = c.Query
	case CalendarEvents:
		if c.Day != "" {
			args["day"] = c.Day
		}
	case Contacts:
		args["name"] = c.Name
	case Location, HealthSummary:
	case PlayMusic:
		if c.Title != "" {
			args["title"] = c.Title
		}
		if c.Artist != "" {
			args["artist"] = c.Artist
		}
	default:
		return nil, fmt.Errorf("cannot encode command of type %T", cmd)
	}
	return args, nil
}

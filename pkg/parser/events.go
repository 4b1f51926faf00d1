// Package parser extracts structured tool invocations from LLM assistant
// text. Assistants embed a single XML-like element whose tag name is the tool
// name and whose child elements carry the parameters. The package offers a
// streaming parser that emits events as chunks arrive, a push-style variant
// for callback hosts, and a batch extractor over complete strings.
package parser

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EventType identifies the kind of a streaming event.
type EventType string

const (
	// EventTypeText carries a single user-perceived character of prose.
	EventTypeText EventType = "text"
	// EventTypeToolStart marks the opening tag of a tool element.
	EventTypeToolStart EventType = "tool_start"
	// EventTypeParameter carries the consolidated parameters of a tool.
	EventTypeParameter EventType = "parameter"
	// EventTypeToolEnd marks the end of a tool element.
	EventTypeToolEnd EventType = "tool_end"
	// EventTypeError reports a structural problem in-band.
	EventTypeError EventType = "error"
)

// Event is one item of the streaming output. Fields are populated according
// to Type: Text for text events; ID and Name for tool starts; ID and
// Arguments for parameters; ID for tool ends; Code, Message and, when a tool
// is open, ID for errors.
type Event struct {
	Type      EventType                              `json:"type"`
	Text      string                                 `json:"text,omitempty"`
	ID        string                                 `json:"id,omitempty"`
	Name      string                                 `json:"name,omitempty"`
	Arguments *orderedmap.OrderedMap[string, string] `json:"arguments,omitempty"`
	Code      string                                 `json:"code,omitempty"`
	Message   string                                 `json:"message,omitempty"`
}

// ToolCall is the record produced by batch extraction: the tool name and the
// parameters in source order. Parameters marshals as a JSON object whose key
// order matches first assignment order.
type ToolCall struct {
	Name       string                                 `json:"tool_name"`
	Parameters *orderedmap.OrderedMap[string, string] `json:"parameters"`
}

// Param returns the value of a parameter and whether it was present.
func (t *ToolCall) Param(name string) (string, bool) {
	if t == nil || t.Parameters == nil {
		return "", false
	}
	return t.Parameters.Get(name)
}

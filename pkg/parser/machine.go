package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type machineState int

const (
	stateNormal machineState = iota
	stateInTag
	stateInToolTag
	stateInParameterTag
)

// machine is the four-state automaton at the center of extraction. It
// consumes one user-perceived character per step and queues the resulting
// events; the queue realizes the look-ahead needed to deliver a deferred
// ToolEnd after a Parameter without reading further input.
type machine struct {
	opts      Options
	state     machineState
	tagBuf    strings.Builder
	valueBuf  strings.Builder
	params    *orderedmap.OrderedMap[string, string]
	toolName  string
	toolID    string
	paramName string
	hasParam  bool
	counter   int
	pending   []Event
}

func newMachine(opts Options) *machine {
	return &machine{
		opts:   opts.normalized(),
		params: orderedmap.New[string, string](),
	}
}

func (m *machine) emit(ev Event) { m.pending = append(m.pending, ev) }

// pop returns the next queued event, if any.
func (m *machine) pop() (Event, bool) {
	if len(m.pending) == 0 {
		return Event{}, false
	}
	ev := m.pending[0]
	m.pending = m.pending[1:]
	return ev, true
}

// step consumes one character cluster.
func (m *machine) step(c string) {
	switch m.state {
	case stateNormal:
		if c == "<" {
			m.state = stateInTag
			m.tagBuf.Reset()
			return
		}
		m.emit(Event{Type: EventTypeText, Text: c})

	case stateInTag:
		if c == ">" {
			m.closeTag()
			return
		}
		if m.tagBuf.Len()+len(c) > m.opts.MaxToolNameLength {
			m.structureError(fmt.Sprintf("tag name exceeds %d bytes", m.opts.MaxToolNameLength))
			return
		}
		m.tagBuf.WriteString(c)

	case stateInToolTag:
		// characters between child elements are not part of any value
		if c == "<" {
			m.state = stateInTag
			m.tagBuf.Reset()
		}

	case stateInParameterTag:
		if c == "<" {
			m.state = stateInTag
			m.tagBuf.Reset()
			return
		}
		if limit := m.opts.MaxParameterValueLength; limit > 0 && m.valueBuf.Len()+len(c) > limit {
			m.emit(Event{Type: EventTypeError, ID: m.toolID, Code: CodeValueTooLarge,
				Message: fmt.Sprintf("parameter %q value exceeds %d bytes", m.paramName, limit)})
			m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
			m.resetTool()
			m.state = stateNormal
			return
		}
		m.valueBuf.WriteString(c)
	}
}

func (m *machine) closeTag() {
	raw := m.tagBuf.String()
	m.tagBuf.Reset()
	if name, ok := strings.CutPrefix(raw, "/"); ok {
		m.closeElement(name)
		return
	}
	m.openElement(raw)
}

func (m *machine) openElement(name string) {
	if m.opts.ValidateNames && !validTagName(name) {
		m.structureError(fmt.Sprintf("invalid tag name %q", name))
		return
	}
	if m.toolID == "" {
		m.counter++
		m.toolID = "tool_" + strconv.Itoa(m.counter)
		m.toolName = name
		m.emit(Event{Type: EventTypeToolStart, ID: m.toolID, Name: name})
		m.state = stateInToolTag
		return
	}
	// a nested opening tag begins (or restarts) parameter accumulation
	m.paramName = name
	m.hasParam = true
	m.valueBuf.Reset()
	m.state = stateInParameterTag
}

func (m *machine) closeElement(name string) {
	switch {
	case m.toolID == "":
		// stray closing tag outside any tool
		m.state = stateNormal

	case name == m.toolName:
		m.closeTool()

	case m.hasParam && name == m.paramName:
		value := strings.TrimSpace(m.valueBuf.String())
		if !m.opts.DisableEntityDecoding {
			value = decodeEntities(value)
		}
		m.params.Set(name, value)
		m.hasParam = false
		m.paramName = ""
		m.valueBuf.Reset()
		m.state = stateInToolTag

	default:
		expected := m.toolName
		if m.hasParam {
			expected = m.paramName
		}
		m.emit(Event{Type: EventTypeError, ID: m.toolID, Code: CodeMismatchedEndTag,
			Message: fmt.Sprintf("mismatched end tag: expected </%s>, found </%s>", expected, name)})
		m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
		m.resetTool()
		m.state = stateNormal
	}
}

// closeTool emits the consolidated Parameter event, when parameters were
// collected, immediately followed by the ToolEnd.
func (m *machine) closeTool() {
	if m.params.Len() > 0 {
		m.emit(Event{Type: EventTypeParameter, ID: m.toolID, Arguments: m.params})
	}
	m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
	m.resetTool()
	m.state = stateNormal
}

func (m *machine) structureError(msg string) {
	if m.toolID != "" {
		m.emit(Event{Type: EventTypeError, ID: m.toolID, Code: CodeInvalidStructure, Message: msg})
		m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
		m.resetTool()
	} else {
		m.emit(Event{Type: EventTypeError, Code: CodeInvalidStructure, Message: msg})
	}
	m.tagBuf.Reset()
	m.state = stateNormal
}

// resetTool clears the open tool span. The params map is replaced, not
// cleared, because a queued Parameter event still references it.
func (m *machine) resetTool() {
	m.params = orderedmap.New[string, string]()
	m.toolName = ""
	m.toolID = ""
	m.paramName = ""
	m.hasParam = false
	m.valueBuf.Reset()
}

// finish runs end-of-input synthesis. An open tool is always closed so tool
// starts and ends pair up; ending inside a parameter value additionally
// reports an unexpected EOF. An unterminated tag accumulation is dropped
// silently.
func (m *machine) finish() {
	if m.toolID == "" {
		m.state = stateNormal
		return
	}
	if m.params.Len() > 0 {
		m.emit(Event{Type: EventTypeParameter, ID: m.toolID, Arguments: m.params})
	}
	if m.state == stateInParameterTag {
		m.emit(Event{Type: EventTypeError, ID: m.toolID, Code: CodeUnexpectedEOF,
			Message: fmt.Sprintf("unexpected end of input inside parameter %q", m.paramName)})
	}
	m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
	m.resetTool()
	m.state = stateNormal
}

// fail injects a stream-level error at end-of-input, closing an open tool
// around it so the pairing invariant still holds.
func (m *machine) fail(code, msg string) {
	if m.toolID == "" {
		m.emit(Event{Type: EventTypeError, Code: code, Message: msg})
		return
	}
	if m.params.Len() > 0 {
		m.emit(Event{Type: EventTypeParameter, ID: m.toolID, Arguments: m.params})
	}
	m.emit(Event{Type: EventTypeError, ID: m.toolID, Code: code, Message: msg})
	m.emit(Event{Type: EventTypeToolEnd, ID: m.toolID})
	m.resetTool()
	m.state = stateNormal
}

func validTagName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			continue
		}
		return false
	}
	return true
}

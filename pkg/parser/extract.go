package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ParseToolCall extracts the tool call from a complete assistant message.
// Prose around the element is ignored; extraction starts at the first '<'
// followed by a letter or digit, which rules out closing tags, declarations
// and bare comparisons, and stops once the element closes. Failures wrap the
// sentinel taxonomy errors.
func ParseToolCall(input string) (*ToolCall, error) {
	return ParseToolCallWithOptions(input, Options{})
}

// ParseToolCallWithOptions is ParseToolCall with explicit options.
func ParseToolCallWithOptions(input string, opts Options) (*ToolCall, error) {
	start := findToolStart(input)
	if start < 0 {
		return nil, newParseError(CodeNoToolFound, "no tool call found in input")
	}

	seg := newSegmenter()
	m := newMachine(opts)
	var (
		call *ToolCall
		id   string
	)
	// collect folds queued events into the record; it reports completion
	// of the first tool span or the first structural error.
	collect := func() (bool, error) {
		for {
			ev, ok := m.pop()
			if !ok {
				return false, nil
			}
			switch ev.Type {
			case EventTypeToolStart:
				if id == "" {
					id = ev.ID
					call = &ToolCall{Name: ev.Name, Parameters: orderedmap.New[string, string]()}
				}
			case EventTypeParameter:
				if ev.ID == id {
					call.Parameters = ev.Arguments
				}
			case EventTypeToolEnd:
				if id != "" && ev.ID == id {
					return true, nil
				}
			case EventTypeError:
				return false, newParseError(ev.Code, ev.Message)
			}
		}
	}

	for _, c := range seg.push([]byte(input[start:])) {
		m.step(c)
		done, err := collect()
		if err != nil {
			return nil, err
		}
		if done {
			return call, nil
		}
	}
	rest, encErr := seg.flush()
	for _, c := range rest {
		m.step(c)
		done, err := collect()
		if err != nil {
			return nil, err
		}
		if done {
			return call, nil
		}
	}
	if encErr != nil {
		m.fail(encErr.Code, encErr.Message)
	} else {
		m.finish()
	}
	done, err := collect()
	if err != nil {
		return nil, err
	}
	if done {
		return call, nil
	}
	return nil, newParseError(CodeNoToolFound, "no tool call found in input")
}

// findToolStart locates the first '<' opening a plausible element.
func findToolStart(s string) int {
	for i := 0; i < len(s); {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			return -1
		}
		pos := i + lt
		r, size := utf8.DecodeRuneInString(s[pos+1:])
		if size > 0 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return pos
		}
		i = pos + 1
	}
	return -1
}

package parser

import "errors"

// Error codes carried by error events and by batch extraction failures.
const (
	CodeNoToolFound      = "no_tool_found"
	CodeUnexpectedEOF    = "unexpected_eof"
	CodeMismatchedEndTag = "mismatched_end_tag"
	CodeInvalidStructure = "invalid_structure"
	CodeValueTooLarge    = "value_too_large"
	CodeInvalidEncoding  = "invalid_encoding"
)

// Sentinel errors for the extraction failure taxonomy. Batch extraction
// returns errors matchable with errors.Is against these.
var (
	ErrNoToolFound      = errors.New("no tool call found in input")
	ErrUnexpectedEOF    = errors.New("unexpected end of input")
	ErrMismatchedEndTag = errors.New("mismatched end tag")
	ErrInvalidStructure = errors.New("invalid structure")
	ErrValueTooLarge    = errors.New("parameter value too large")
	ErrInvalidEncoding  = errors.New("invalid character encoding")
)

var sentinelByCode = map[string]error{
	CodeNoToolFound:      ErrNoToolFound,
	CodeUnexpectedEOF:    ErrUnexpectedEOF,
	CodeMismatchedEndTag: ErrMismatchedEndTag,
	CodeInvalidStructure: ErrInvalidStructure,
	CodeValueTooLarge:    ErrValueTooLarge,
	CodeInvalidEncoding:  ErrInvalidEncoding,
}

// ParseError is a structured extraction failure. It keeps the machine-facing
// code alongside the human-readable message and matches the corresponding
// sentinel via errors.Is.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Is reports whether target is the sentinel for this error's code.
func (e *ParseError) Is(target error) bool {
	return sentinelByCode[e.Code] == target
}

func newParseError(code, message string) *ParseError {
	return &ParseError{Code: code, Message: message}
}

// ErrorCode returns the taxonomy code of an extraction failure, or an empty
// string when err does not carry one.
func ErrorCode(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/efortin/toolsift/pkg/parser"
	"github.com/efortin/toolsift/pkg/stats"
)

// relayWriter wraps http.ResponseWriter around a proxied chat completion
// response. SSE content deltas stream through until a tool element candidate
// opens; from there the raw span is buffered and fed to a push parser. A
// completed element is re-emitted as a single OpenAI tool_calls chunk and the
// rest of the stream is suppressed. A failed candidate is flushed back into
// the content stream verbatim at end of stream.
type relayWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64

	opts    parser.Options
	metrics *stats.MetricsRecorder
	usage   *UsageTracker

	sseChecked bool
	sse        bool
	lineBuf    bytes.Buffer // carries partial SSE lines across writes

	template      map[string]interface{} // first upstream chunk, template for synthesized ones
	upstreamUsage bool

	holdover string // trailing "<" awaiting the rune that classifies it

	candidate       bool // a possible tool element is being buffered
	candidateFailed bool
	push            *parser.PushParser
	rawSpan         strings.Builder
	toolID          string
	toolName        string
	toolArgs        *orderedmap.OrderedMap[string, string]

	rewriteDone bool // rewriting resolved for this response, pass everything through
	suppress    bool // tool chunk emitted, swallow the remainder
	done        bool // [DONE] forwarded
	nativeTools bool
}

// newRelayWriter creates a new relay writer wrapper
func newRelayWriter(w http.ResponseWriter, opts parser.Options, counter TokenCounter, metrics *stats.MetricsRecorder) *relayWriter {
	return &relayWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		opts:           opts,
		metrics:        metrics,
		usage:          NewUsageTracker(counter),
	}
}

// WriteHeader captures the status code
func (rw *relayWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write rewrites SSE chat chunks and passes everything else through
func (rw *relayWriter) Write(b []byte) (int, error) {
	if rw.done || rw.suppress {
		return len(b), nil
	}

	if !rw.sseChecked {
		rw.sseChecked = true
		contentType := rw.Header().Get("Content-Type")
		rw.sse = rw.statusCode == http.StatusOK && strings.Contains(contentType, "text/event-stream")
	}

	if !rw.sse {
		n, err := rw.ResponseWriter.Write(b)
		rw.bytesWritten += int64(n)
		return n, err
	}

	rw.lineBuf.Write(b)
	for {
		line, ok := rw.nextLine()
		if !ok {
			break
		}
		if err := rw.processLine(line); err != nil {
			return len(b), err
		}
		if rw.done || rw.suppress {
			break
		}
	}
	return len(b), nil
}

// nextLine pops one complete line from the buffer
func (rw *relayWriter) nextLine() (string, bool) {
	data := rw.lineBuf.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", false
	}
	line := string(data[:i])
	rw.lineBuf.Next(i + 1)
	return strings.TrimSuffix(line, "\r"), true
}

func (rw *relayWriter) processLine(line string) error {
	if line == "" {
		// event separators are re-added when emitting
		return nil
	}
	if !strings.HasPrefix(line, "data: ") {
		// comments and other SSE fields pass through untouched
		return rw.writeRaw(line + "\n")
	}

	payload := strings.TrimPrefix(line, "data: ")
	if payload == "[DONE]" {
		return rw.finalize()
	}

	var chunk map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		// not a chat chunk, forward as-is
		return rw.writeRaw(line + "\n\n")
	}

	if rw.template == nil {
		rw.template = chunk
	}
	if usage, ok := chunk["usage"]; ok && usage != nil {
		rw.upstreamUsage = true
	}

	content, hasNativeTools := deltaContent(chunk)

	if hasNativeTools && !rw.nativeTools {
		rw.nativeTools = true
		rw.rewriteDone = true
		log.Printf("[RELAY] native tool_calls detected, rewriting disabled")
		if rw.metrics != nil {
			rw.metrics.RecordRelayRewrite("passthrough")
		}
		if rw.candidate {
			// give the buffered span back to the content stream
			if err := rw.flushCandidate(); err != nil {
				return err
			}
		}
	}

	if rw.rewriteDone {
		if content != "" {
			rw.usage.AddProse(content)
		}
		return rw.writeRaw(line + "\n\n")
	}

	if content == "" {
		if rw.candidate {
			// administrative chunks are dropped while a candidate is pending;
			// the rewrite synthesizes its own finish
			return nil
		}
		return rw.writeRaw(line + "\n\n")
	}

	if rw.candidate {
		return rw.feedCandidate(content)
	}
	return rw.handleContent(line, content)
}

// handleContent streams prose through and opens a candidate when a tool
// element may start. line is the original SSE line for the verbatim path.
func (rw *relayWriter) handleContent(line, content string) error {
	text := rw.holdover + content
	rw.holdover = ""

	start := relayCandidateStart(text)
	if start < 0 {
		if strings.HasSuffix(text, "<") {
			// the next rune decides whether this opens a tool element
			rw.holdover = "<"
			text = text[:len(text)-1]
		}
		if text == "" {
			return nil
		}
		rw.usage.AddProse(text)
		if rw.holdover == "" && text == content {
			return rw.writeRaw(line + "\n\n")
		}
		return rw.writeContentChunk(text)
	}

	if prefix := text[:start]; prefix != "" {
		rw.usage.AddProse(prefix)
		if err := rw.writeContentChunk(prefix); err != nil {
			return err
		}
	}

	rw.candidate = true
	rw.push = parser.NewPushParserWithOptions(rw.opts)
	log.Printf("[RELAY] tool element candidate detected, buffering")
	return rw.feedCandidate(text[start:])
}

// feedCandidate buffers raw span text and advances the parser
func (rw *relayWriter) feedCandidate(text string) error {
	rw.rawSpan.WriteString(text)
	return rw.consumeEvents(rw.push.Push(text))
}

func (rw *relayWriter) consumeEvents(events []parser.Event) error {
	for _, ev := range events {
		if rw.candidateFailed {
			// resolution is deferred to end of stream
			return nil
		}
		switch ev.Type {
		case parser.EventTypeToolStart:
			if rw.toolID == "" {
				rw.toolID = ev.ID
				rw.toolName = ev.Name
			}
		case parser.EventTypeParameter:
			if ev.ID == rw.toolID {
				rw.toolArgs = ev.Arguments
			}
		case parser.EventTypeError:
			rw.candidateFailed = true
			log.Printf("[RELAY] tool element candidate failed (%s), raw span flushes at end of stream", ev.Code)
		case parser.EventTypeToolEnd:
			if ev.ID == rw.toolID {
				return rw.completeCandidate()
			}
		}
	}
	return nil
}

// completeCandidate emits the rewritten tool_calls chunk and ends the stream
func (rw *relayWriter) completeCandidate() error {
	args := "{}"
	if rw.toolArgs != nil {
		if raw, err := json.Marshal(rw.toolArgs); err == nil {
			args = string(raw)
		}
	}
	rw.usage.AddTool(rw.toolName + args)

	log.Printf("[RELAY] tool element complete, rewriting as tool_calls chunk (tool=%s)", rw.toolName)
	if rw.metrics != nil {
		rw.metrics.RecordRelayRewrite("rewritten")
	}

	if err := rw.writeChunk(rw.buildToolCallChunk(rw.toolName, args)); err != nil {
		return err
	}
	if err := rw.writeRaw("data: [DONE]\n\n"); err != nil {
		return err
	}

	rw.recordTokens()
	rw.suppress = true
	rw.done = true
	rw.Flush()
	return nil
}

// flushCandidate gives the buffered raw span back to the content stream
func (rw *relayWriter) flushCandidate() error {
	span := rw.rawSpan.String()
	rw.candidate = false
	rw.push = nil
	rw.rawSpan.Reset()
	if span == "" {
		return nil
	}
	rw.usage.AddProse(span)
	return rw.writeContentChunk(span)
}

// finalize handles the upstream [DONE] marker
func (rw *relayWriter) finalize() error {
	if rw.done {
		return nil
	}
	rw.done = true

	if rw.candidate {
		// end of input resolves the candidate: a still-open tool is closed
		// by synthesis, anything else flushes raw
		for _, ev := range rw.push.Close() {
			switch ev.Type {
			case parser.EventTypeParameter:
				if ev.ID == rw.toolID && !rw.candidateFailed {
					rw.toolArgs = ev.Arguments
				}
			case parser.EventTypeError:
				rw.candidateFailed = true
			case parser.EventTypeToolEnd:
				if ev.ID == rw.toolID && !rw.candidateFailed {
					return rw.completeCandidate()
				}
			}
		}
		log.Printf("[RELAY] candidate unresolved at end of stream, flushing %d raw bytes", rw.rawSpan.Len())
		if rw.metrics != nil {
			rw.metrics.RecordRelayRewrite("failed")
		}
		if err := rw.flushCandidate(); err != nil {
			return err
		}
	} else if rw.holdover != "" {
		rw.usage.AddProse(rw.holdover)
		if err := rw.writeContentChunk(rw.holdover); err != nil {
			return err
		}
		rw.holdover = ""
	}

	if err := rw.writeRaw("data: [DONE]\n\n"); err != nil {
		return err
	}
	rw.recordTokens()
	rw.Flush()
	return nil
}

// chunkTemplate returns the upstream template chunk or a minimal fallback
func (rw *relayWriter) chunkTemplate() map[string]interface{} {
	if rw.template != nil {
		return rw.template
	}
	return map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   "unknown",
	}
}

// writeContentChunk emits a synthesized content delta chunk
func (rw *relayWriter) writeContentChunk(text string) error {
	chunk := make(map[string]interface{})
	for k, v := range rw.chunkTemplate() {
		chunk[k] = v
	}
	chunk["choices"] = []map[string]interface{}{
		{
			"index": 0,
			"delta": map[string]interface{}{"content": text},
		},
	}
	return rw.writeChunk(chunk)
}

// buildToolCallChunk builds the single chunk carrying the complete tool call
func (rw *relayWriter) buildToolCallChunk(name, args string) map[string]interface{} {
	chunk := make(map[string]interface{})
	for k, v := range rw.chunkTemplate() {
		chunk[k] = v
	}

	chunk["choices"] = []map[string]interface{}{
		{
			"index": 0,
			"delta": map[string]interface{}{
				"tool_calls": []map[string]interface{}{
					{
						"index": 0,
						"id":    "call_" + uuid.NewString(),
						"type":  "function",
						"function": map[string]interface{}{
							"name":      name,
							"arguments": args,
						},
					},
				},
			},
			"finish_reason": "tool_calls",
		},
	}
	if !rw.upstreamUsage {
		chunk["usage"] = rw.usage.Usage()
	}
	return chunk
}

func (rw *relayWriter) writeChunk(chunk map[string]interface{}) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return rw.writeRaw("data: " + string(payload) + "\n\n")
}

func (rw *relayWriter) writeRaw(s string) error {
	n, err := rw.ResponseWriter.Write([]byte(s))
	rw.bytesWritten += int64(n)
	return err
}

func (rw *relayWriter) recordTokens() {
	if rw.metrics == nil {
		return
	}
	rw.metrics.RecordTokens("prose", rw.usage.ProseTokens())
	rw.metrics.RecordTokens("tool", rw.usage.ToolTokens())
}

// Hijack implements http.Hijacker
func (rw *relayWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Flush implements http.Flusher
func (rw *relayWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Status returns the captured status code
func (rw *relayWriter) Status() int {
	return rw.statusCode
}

// Size returns the number of bytes written
func (rw *relayWriter) Size() int64 {
	return rw.bytesWritten
}

// deltaContent extracts choices[0].delta.content from a chat chunk and
// reports whether the delta carries native tool_calls.
func deltaContent(chunk map[string]interface{}) (string, bool) {
	choices, ok := chunk["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return "", false
	}
	delta, ok := choice["delta"].(map[string]interface{})
	if !ok {
		return "", false
	}

	hasNativeTools := false
	if toolCalls, ok := delta["tool_calls"].([]interface{}); ok && len(toolCalls) > 0 {
		hasNativeTools = true
	}
	content, _ := delta["content"].(string)
	return content, hasNativeTools
}

// relayCandidateStart returns the index of the first '<' whose following rune
// is a letter or digit, the only shape that can open a tool element, or -1.
func relayCandidateStart(s string) int {
	for pos := 0; pos < len(s); {
		i := strings.IndexByte(s[pos:], '<')
		if i < 0 {
			return -1
		}
		i += pos
		r, size := utf8.DecodeRuneInString(s[i+1:])
		if size > 0 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return i
		}
		pos = i + 1
	}
	return -1
}

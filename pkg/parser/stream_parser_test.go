package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rivo/uniseg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader delivers a fixed chunk sequence, one chunk per Read call,
// reproducing network-style arrival.
type chunkedReader struct {
	chunks []string
	i      int
	rem    string
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.rem == "" {
		if r.i >= len(r.chunks) {
			return 0, io.EOF
		}
		r.rem = r.chunks[r.i]
		r.i++
		if r.rem == "" {
			return 0, nil
		}
	}
	n := copy(p, r.rem)
	r.rem = r.rem[n:]
	return n, nil
}

func collectEvents(t *testing.T, p *StreamParser) []Event {
	t.Helper()
	var evs []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return evs
		}
		require.NoError(t, err)
		evs = append(evs, ev)
	}
}

func collectEventsFromString(t *testing.T, input string) []Event {
	t.Helper()
	return collectEvents(t, NewStreamParser(strings.NewReader(input)))
}

// fingerprint flattens an event for order-sensitive comparison, including
// argument order.
func fingerprint(ev Event) string {
	args := ""
	if ev.Arguments != nil {
		raw, _ := json.Marshal(ev.Arguments)
		args = string(raw)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s", ev.Type, ev.Text, ev.ID, ev.Name, args, ev.Code, ev.Message)
}

func fingerprints(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = fingerprint(ev)
	}
	return out
}

// leadingText concatenates the text events at the head of evs and returns
// the index of the first non-text event.
func leadingText(evs []Event) (string, int) {
	var b strings.Builder
	for i, ev := range evs {
		if ev.Type != EventTypeText {
			return b.String(), i
		}
		b.WriteString(ev.Text)
	}
	return b.String(), len(evs)
}

func argPairs(t *testing.T, ev Event) [][2]string {
	t.Helper()
	require.NotNil(t, ev.Arguments)
	var out [][2]string
	for pair := ev.Arguments.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, [2]string{pair.Key, pair.Value})
	}
	return out
}

func TestStreamParser_WeatherNarrative(t *testing.T) {
	prose := "明日のニューヨークの天気を調べます。\n\n"
	tail := "\n\n結果が出たらお知らせします。"
	input := prose +
		"<get_weather>\n  <location>New York</location>\n  <date>tomorrow</date>\n  <unit>fahrenheit</unit>\n</get_weather>" +
		tail

	evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))

	head, i := leadingText(evs)
	assert.Equal(t, prose, head)
	for _, ev := range evs[:i] {
		assert.Equal(t, 1, uniseg.GraphemeClusterCount(ev.Text))
	}

	require.True(t, len(evs) >= i+3)
	start := evs[i]
	assert.Equal(t, EventTypeToolStart, start.Type)
	assert.Equal(t, "tool_1", start.ID)
	assert.Equal(t, "get_weather", start.Name)

	param := evs[i+1]
	assert.Equal(t, EventTypeParameter, param.Type)
	assert.Equal(t, "tool_1", param.ID)
	assert.Equal(t, [][2]string{
		{"location", "New York"},
		{"date", "tomorrow"},
		{"unit", "fahrenheit"},
	}, argPairs(t, param))

	end := evs[i+2]
	assert.Equal(t, EventTypeToolEnd, end.Type)
	assert.Equal(t, "tool_1", end.ID)

	rest, _ := leadingText(evs[i+3:])
	assert.Equal(t, tail, rest)
}

func TestStreamParser_MultilineContent(t *testing.T) {
	input := "Okay, I will write the following content to the file.\n" +
		"<write_to_file>\n<path>src/main.rs</path>\n<content>\nfn main() {\n    println!(\"Hello, world!\");\n}\n</content>\n</write_to_file>\n" +
		"Let me know if that looks correct."

	evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))
	_, i := leadingText(evs)
	param := evs[i+1]
	require.Equal(t, EventTypeParameter, param.Type)
	assert.Equal(t, [][2]string{
		{"path", "src/main.rs"},
		{"content", "fn main() {\n    println!(\"Hello, world!\");\n}"},
	}, argPairs(t, param))
}

func TestStreamParser_EmptyTool(t *testing.T) {
	evs := collectEvents(t, NewStreamParser(strings.NewReader("<ping></ping>")))
	require.Len(t, evs, 2)
	assert.Equal(t, EventTypeToolStart, evs[0].Type)
	assert.Equal(t, "ping", evs[0].Name)
	assert.Equal(t, "tool_1", evs[0].ID)
	assert.Equal(t, EventTypeToolEnd, evs[1].Type)
	assert.Equal(t, "tool_1", evs[1].ID)
}

func TestStreamParser_ChunkBoundaryMidTag(t *testing.T) {
	r := &chunkedReader{chunks: []string{"<get_", "weather><x>1</x></get_weather>"}}
	evs := collectEvents(t, NewStreamParser(r))
	require.Len(t, evs, 3)
	assert.Equal(t, EventTypeToolStart, evs[0].Type)
	assert.Equal(t, "get_weather", evs[0].Name)
	assert.Equal(t, EventTypeParameter, evs[1].Type)
	assert.Equal(t, [][2]string{{"x", "1"}}, argPairs(t, evs[1]))
	assert.Equal(t, EventTypeToolEnd, evs[2].Type)
}

func TestStreamParser_ProseOnly(t *testing.T) {
	evs := collectEvents(t, NewStreamParser(strings.NewReader("just prose")))
	require.Len(t, evs, 10)
	var b strings.Builder
	for _, ev := range evs {
		require.Equal(t, EventTypeText, ev.Type)
		b.WriteString(ev.Text)
	}
	assert.Equal(t, "just prose", b.String())
}

func TestStreamParser_ChunkInvariance(t *testing.T) {
	input := "天気を調べます。\n<get_weather>\n<location>New York</location>\n<unit>°F</unit>\n</get_weather>\nできました👍🏼"

	reference := fingerprints(collectEvents(t, NewStreamParser(strings.NewReader(input))))

	for _, size := range []int{1, 2, 3, 5, 7, 16, 64} {
		t.Run(fmt.Sprintf("chunk_bytes_%d", size), func(t *testing.T) {
			var chunks []string
			for i := 0; i < len(input); i += size {
				end := i + size
				if end > len(input) {
					end = len(input)
				}
				chunks = append(chunks, input[i:end])
			}
			evs := collectEvents(t, NewStreamParser(&chunkedReader{chunks: chunks}))
			assert.Equal(t, reference, fingerprints(evs))
		})
	}
}

func TestStreamParser_MismatchedEndTag(t *testing.T) {
	input := "<get_weather><location>New York</date></get_weather>ok"
	evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))

	require.True(t, len(evs) >= 3)
	assert.Equal(t, EventTypeToolStart, evs[0].Type)

	assert.Equal(t, EventTypeError, evs[1].Type)
	assert.Equal(t, CodeMismatchedEndTag, evs[1].Code)
	assert.Equal(t, "tool_1", evs[1].ID)
	assert.Contains(t, evs[1].Message, "expected </location>")
	assert.Contains(t, evs[1].Message, "found </date>")

	assert.Equal(t, EventTypeToolEnd, evs[2].Type)
	assert.Equal(t, "tool_1", evs[2].ID)

	// the stray </get_weather> is discarded, prose resumes
	rest, _ := leadingText(evs[3:])
	assert.Equal(t, "ok", rest)
}

func TestStreamParser_EndOfInputSynthesis(t *testing.T) {
	t.Run("open_tool_with_closed_parameter", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("<write_to_file><path>x</path>")))
		require.Len(t, evs, 3)
		assert.Equal(t, EventTypeToolStart, evs[0].Type)
		assert.Equal(t, EventTypeParameter, evs[1].Type)
		assert.Equal(t, [][2]string{{"path", "x"}}, argPairs(t, evs[1]))
		assert.Equal(t, EventTypeToolEnd, evs[2].Type)
	})

	t.Run("inside_parameter_value", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("<t><a>abc")))
		require.Len(t, evs, 3)
		assert.Equal(t, EventTypeToolStart, evs[0].Type)
		assert.Equal(t, EventTypeError, evs[1].Type)
		assert.Equal(t, CodeUnexpectedEOF, evs[1].Code)
		assert.Contains(t, evs[1].Message, `parameter "a"`)
		assert.Equal(t, EventTypeToolEnd, evs[2].Type)
	})

	t.Run("parameter_precedes_error_and_end", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("<t><a>1</a><b>xy")))
		require.Len(t, evs, 4)
		assert.Equal(t, EventTypeToolStart, evs[0].Type)
		assert.Equal(t, EventTypeParameter, evs[1].Type)
		assert.Equal(t, [][2]string{{"a", "1"}}, argPairs(t, evs[1]))
		assert.Equal(t, EventTypeError, evs[2].Type)
		assert.Equal(t, CodeUnexpectedEOF, evs[2].Code)
		assert.Equal(t, EventTypeToolEnd, evs[3].Type)
	})

	t.Run("unterminated_tag_dropped_silently", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("<t><a>v</a><clos")))
		require.Len(t, evs, 3)
		assert.Equal(t, EventTypeToolStart, evs[0].Type)
		assert.Equal(t, EventTypeParameter, evs[1].Type)
		assert.Equal(t, EventTypeToolEnd, evs[2].Type)
	})
}

func TestStreamParser_RepeatedParameterOverwritesInPlace(t *testing.T) {
	input := "<t><a>1</a><b>2</b><a>3</a></t>"
	evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))
	require.Len(t, evs, 3)
	assert.Equal(t, [][2]string{{"a", "3"}, {"b", "2"}}, argPairs(t, evs[1]))
}

func TestStreamParser_EntityDecoding(t *testing.T) {
	t.Run("enabled_by_default", func(t *testing.T) {
		input := "<say><text>5 &lt; 6 &amp;&amp; &quot;ok&quot; &apos;y&apos; &gt;</text></say>"
		evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))
		assert.Equal(t, [][2]string{{"text", `5 < 6 && "ok" 'y' >`}}, argPairs(t, evs[1]))
	})

	t.Run("disabled", func(t *testing.T) {
		input := "<say><text>a &amp; b</text></say>"
		p := NewStreamParserWithOptions(strings.NewReader(input), Options{DisableEntityDecoding: true})
		evs := collectEvents(t, p)
		assert.Equal(t, [][2]string{{"text", "a &amp; b"}}, argPairs(t, evs[1]))
	})
}

func TestStreamParser_SequentialToolIDs(t *testing.T) {
	input := "<a></a>then<b><k>v</k></b>"
	evs := collectEvents(t, NewStreamParser(strings.NewReader(input)))

	var starts, ends []string
	for _, ev := range evs {
		switch ev.Type {
		case EventTypeToolStart:
			starts = append(starts, ev.ID)
		case EventTypeToolEnd:
			ends = append(ends, ev.ID)
		}
	}
	assert.Equal(t, []string{"tool_1", "tool_2"}, starts)
	assert.Equal(t, []string{"tool_1", "tool_2"}, ends)
}

func TestStreamParser_ValueTooLarge(t *testing.T) {
	p := NewStreamParserWithOptions(
		strings.NewReader("<t><a>123456789</a></t>"),
		Options{MaxParameterValueLength: 8},
	)
	evs := collectEvents(t, p)
	require.Len(t, evs, 3)
	assert.Equal(t, EventTypeToolStart, evs[0].Type)
	assert.Equal(t, EventTypeError, evs[1].Type)
	assert.Equal(t, CodeValueTooLarge, evs[1].Code)
	assert.Equal(t, EventTypeToolEnd, evs[2].Type)
}

func TestStreamParser_TagNameCap(t *testing.T) {
	p := NewStreamParserWithOptions(strings.NewReader("<toolong>x"), Options{MaxToolNameLength: 4})
	evs := collectEvents(t, p)
	require.True(t, len(evs) >= 1)
	assert.Equal(t, EventTypeError, evs[0].Type)
	assert.Equal(t, CodeInvalidStructure, evs[0].Code)
	assert.Empty(t, evs[0].ID)
	// parsing resumes as prose after the dropped tag buffer
	rest, _ := leadingText(evs[1:])
	assert.Equal(t, "ng>x", rest)
}

func TestStreamParser_NameValidation(t *testing.T) {
	p := NewStreamParserWithOptions(strings.NewReader("<bad name>x"), Options{ValidateNames: true})
	evs := collectEvents(t, p)
	require.True(t, len(evs) >= 1)
	assert.Equal(t, EventTypeError, evs[0].Type)
	assert.Equal(t, CodeInvalidStructure, evs[0].Code)
	rest, _ := leadingText(evs[1:])
	assert.Equal(t, "x", rest)
}

func TestStreamParser_InvalidEncoding(t *testing.T) {
	t.Run("truncated_sequence_at_end", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("ab\xe3\x81")))
		require.Len(t, evs, 3)
		assert.Equal(t, "a", evs[0].Text)
		assert.Equal(t, "b", evs[1].Text)
		assert.Equal(t, EventTypeError, evs[2].Type)
		assert.Equal(t, CodeInvalidEncoding, evs[2].Code)
		assert.Equal(t, "invalid character encoding at end of input", evs[2].Message)
	})

	t.Run("invalid_byte_mid_stream", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("a\xffb")))
		require.Len(t, evs, 3)
		assert.Equal(t, "a", evs[0].Text)
		assert.Equal(t, "�", evs[1].Text)
		assert.Equal(t, "b", evs[2].Text)
	})

	t.Run("tool_still_closed", func(t *testing.T) {
		evs := collectEvents(t, NewStreamParser(strings.NewReader("<t><a>1</a>\xe3\x81")))
		require.Len(t, evs, 4)
		assert.Equal(t, EventTypeToolStart, evs[0].Type)
		assert.Equal(t, EventTypeParameter, evs[1].Type)
		assert.Equal(t, EventTypeError, evs[2].Type)
		assert.Equal(t, CodeInvalidEncoding, evs[2].Code)
		assert.Equal(t, EventTypeToolEnd, evs[3].Type)
	})
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestStreamParser_SourceErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	p := NewStreamParser(&failingReader{data: "hi", err: boom})

	ev, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "h", ev.Text)

	// "i" is held back as the unsealed trailing cluster when the source fails
	_, err = p.Next()
	assert.ErrorIs(t, err, boom)
}

func TestStreamParser_EmptyChunks(t *testing.T) {
	r := &chunkedReader{chunks: []string{"<t><a>1</a>", "", "</t>"}}
	evs := collectEvents(t, NewStreamParser(r))
	require.Len(t, evs, 3)
	assert.Equal(t, EventTypeToolStart, evs[0].Type)
	assert.Equal(t, EventTypeParameter, evs[1].Type)
	assert.Equal(t, EventTypeToolEnd, evs[2].Type)
}

func TestStreamParser_Idempotence(t *testing.T) {
	input := "hello <tool_x><p>1</p></tool_x> bye"
	first := fingerprints(collectEvents(t, NewStreamParser(strings.NewReader(input))))
	second := fingerprints(collectEvents(t, NewStreamParser(strings.NewReader(input))))
	assert.Equal(t, first, second)
}

func TestChunkReader(t *testing.T) {
	t.Run("drains_channel_until_close", func(t *testing.T) {
		ch := make(chan string, 3)
		ch <- "<ping>"
		ch <- "</ping>"
		close(ch)

		p := NewStreamParser(NewChunkReader(context.Background(), ch))
		evs := collectEvents(t, p)
		require.Len(t, evs, 2)
		assert.Equal(t, "ping", evs[0].Name)
	})

	t.Run("context_cancellation_aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewStreamParser(NewChunkReader(ctx, make(chan string)))
		_, err := p.Next()
		assert.ErrorIs(t, err, context.Canceled)
	})
}

package parser_test

import (
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/efortin/toolsift/pkg/parser"
)

func drain(p *parser.StreamParser) []parser.Event {
	var evs []parser.Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return evs
		}
		Expect(err).NotTo(HaveOccurred())
		evs = append(evs, ev)
	}
}

func eventTypes(evs []parser.Event) []parser.EventType {
	out := make([]parser.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

var _ = Describe("StreamParser", func() {
	Context("with a tool call embedded in prose", func() {
		It("emits start, parameter and end sharing one id", func() {
			evs := drain(parser.NewStreamParser(strings.NewReader("hi <ping><x>1</x></ping> bye")))

			var structural []parser.Event
			for _, ev := range evs {
				if ev.Type != parser.EventTypeText {
					structural = append(structural, ev)
				}
			}
			Expect(eventTypes(structural)).To(Equal([]parser.EventType{
				parser.EventTypeToolStart,
				parser.EventTypeParameter,
				parser.EventTypeToolEnd,
			}))
			Expect(structural[0].ID).To(Equal("tool_1"))
			Expect(structural[1].ID).To(Equal("tool_1"))
			Expect(structural[2].ID).To(Equal("tool_1"))
		})

		It("never emits text between tool start and tool end", func() {
			evs := drain(parser.NewStreamParser(strings.NewReader("<t>  junk  <a>1</a>  more  </t>")))
			open := false
			for _, ev := range evs {
				switch ev.Type {
				case parser.EventTypeToolStart:
					open = true
				case parser.EventTypeToolEnd:
					open = false
				case parser.EventTypeText:
					Expect(open).To(BeFalse())
				}
			}
		})
	})

	Context("when the input ends with an open tool", func() {
		It("synthesizes the tool end", func() {
			evs := drain(parser.NewStreamParser(strings.NewReader("<ping>")))
			Expect(eventTypes(evs)).To(Equal([]parser.EventType{
				parser.EventTypeToolStart,
				parser.EventTypeToolEnd,
			}))
		})
	})

	Context("when a closing tag matches nothing", func() {
		It("reports the mismatch in-band and keeps streaming", func() {
			evs := drain(parser.NewStreamParser(strings.NewReader("<t><a>v</b>after")))

			var codes []string
			for _, ev := range evs {
				if ev.Type == parser.EventTypeError {
					codes = append(codes, ev.Code)
				}
			}
			Expect(codes).To(ConsistOf(parser.CodeMismatchedEndTag))

			var tail strings.Builder
			for _, ev := range evs {
				if ev.Type == parser.EventTypeText {
					tail.WriteString(ev.Text)
				}
			}
			Expect(tail.String()).To(Equal("after"))
		})
	})
})

var _ = Describe("ParseToolCall", func() {
	It("returns the record for a complete element", func() {
		call, err := parser.ParseToolCall("<get_weather><location>Paris</location></get_weather>")
		Expect(err).NotTo(HaveOccurred())
		Expect(call.Name).To(Equal("get_weather"))
		location, ok := call.Param("location")
		Expect(ok).To(BeTrue())
		Expect(location).To(Equal("Paris"))
	})

	It("fails with the taxonomy sentinel when no tool is present", func() {
		_, err := parser.ParseToolCall("nothing here")
		Expect(err).To(MatchError(parser.ErrNoToolFound))
	})
})

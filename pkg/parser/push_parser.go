package parser

// PushParser is the push-style facade over the same machine that backs
// StreamParser: the caller hands chunks in as they arrive and receives the
// events each chunk completed. It suits hosts that get text through
// callbacks rather than a reader, such as an SSE relay. Not safe for
// concurrent use.
type PushParser struct {
	seg    *segmenter
	m      *machine
	closed bool
}

// NewPushParser returns a push parser with default options.
func NewPushParser() *PushParser {
	return NewPushParserWithOptions(Options{})
}

// NewPushParserWithOptions returns a push parser with opts.
func NewPushParserWithOptions(opts Options) *PushParser {
	return &PushParser{seg: newSegmenter(), m: newMachine(opts)}
}

// Push feeds one chunk and returns the events that became ready. Events held
// back by an ambiguous trailing character appear with a later Push or at
// Close.
func (p *PushParser) Push(chunk string) []Event {
	if p.closed {
		return nil
	}
	for _, c := range p.seg.push([]byte(chunk)) {
		p.m.step(c)
	}
	return p.drain()
}

// Close declares end-of-input and returns the tail events, including the
// synthesized ToolEnd for a still-open tool. Further calls return nil.
func (p *PushParser) Close() []Event {
	if p.closed {
		return nil
	}
	p.closed = true
	rest, encErr := p.seg.flush()
	for _, c := range rest {
		p.m.step(c)
	}
	if encErr != nil {
		p.m.fail(encErr.Code, encErr.Message)
	} else {
		p.m.finish()
	}
	return p.drain()
}

func (p *PushParser) drain() []Event {
	var evs []Event
	for {
		ev, ok := p.m.pop()
		if !ok {
			return evs
		}
		evs = append(evs, ev)
	}
}

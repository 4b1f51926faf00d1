package parser

import "io"

const readChunkSize = 4096

// StreamParser is the pull-based streaming extractor. Next returns events
// one at a time, reading from the source only when no event is ready, and
// io.EOF once the input is exhausted and every synthesized event has been
// delivered. A parser instance is single-threaded and owned by its consumer;
// it holds no goroutines and no timers.
type StreamParser struct {
	src      io.Reader
	seg      *segmenter
	m        *machine
	clusters []string
	buf      []byte
	srcDone  bool
	finished bool
	err      error
}

// NewStreamParser returns a parser with default options reading from r. The
// reader's chunk boundaries are arbitrary; they may split tags, multi-byte
// characters and grapheme clusters.
func NewStreamParser(r io.Reader) *StreamParser {
	return NewStreamParserWithOptions(r, Options{})
}

// NewStreamParserWithOptions returns a parser reading from r with opts.
func NewStreamParserWithOptions(r io.Reader, opts Options) *StreamParser {
	return &StreamParser{
		src: r,
		seg: newSegmenter(),
		m:   newMachine(opts),
		buf: make([]byte, readChunkSize),
	}
}

// Next returns the next event. It returns io.EOF when the stream is done,
// and propagates a source read error once the events ready before the
// failure have been delivered.
func (p *StreamParser) Next() (Event, error) {
	for {
		if ev, ok := p.m.pop(); ok {
			return ev, nil
		}
		if len(p.clusters) > 0 {
			c := p.clusters[0]
			p.clusters = p.clusters[1:]
			p.m.step(c)
			continue
		}
		if p.finished {
			return Event{}, io.EOF
		}
		if p.err != nil {
			return Event{}, p.err
		}
		if p.srcDone {
			rest, encErr := p.seg.flush()
			for _, c := range rest {
				p.m.step(c)
			}
			if encErr != nil {
				p.m.fail(encErr.Code, encErr.Message)
			} else {
				p.m.finish()
			}
			p.finished = true
			continue
		}
		n, err := p.src.Read(p.buf)
		if n > 0 {
			p.clusters = append(p.clusters, p.seg.push(p.buf[:n])...)
		}
		switch err {
		case nil:
		case io.EOF:
			p.srcDone = true
		default:
			p.err = err
		}
	}
}

package parser

import (
	"context"
	"io"
)

// ChunkReader adapts a channel of text chunks to io.Reader so push-style
// producers can feed a StreamParser. Closing the channel declares
// end-of-input; cancelling the context aborts a pending read with the
// context error.
type ChunkReader struct {
	ctx context.Context
	ch  <-chan string
	rem string
}

// NewChunkReader returns a reader draining chunks.
func NewChunkReader(ctx context.Context, chunks <-chan string) *ChunkReader {
	return &ChunkReader{ctx: ctx, ch: chunks}
}

func (r *ChunkReader) Read(p []byte) (int, error) {
	for r.rem == "" {
		select {
		case chunk, ok := <-r.ch:
			if !ok {
				return 0, io.EOF
			}
			r.rem = chunk
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	n := copy(p, r.rem)
	r.rem = r.rem[n:]
	return n, nil
}

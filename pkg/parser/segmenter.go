package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// segmenter is the chunk ingress buffer. It joins arbitrarily split byte
// chunks and yields whole user-perceived characters (extended grapheme
// clusters). Two things are held across chunk boundaries: an incomplete
// trailing UTF-8 sequence, and the final cluster of the decoded text, which
// stays unsealed until a following character or end-of-input proves its
// boundary. That makes the cluster sequence identical for every chunking of
// the same input.
type segmenter struct {
	partial []byte // incomplete trailing UTF-8 sequence
	window  string // decoded text whose final cluster boundary is unproven
}

func newSegmenter() *segmenter { return &segmenter{} }

// push ingests one chunk and returns the clusters it sealed. Invalid bytes
// in the middle of the input decode to U+FFFD.
func (s *segmenter) push(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	data := chunk
	if len(s.partial) > 0 {
		data = append(s.partial, chunk...)
		s.partial = nil
	}
	var b strings.Builder
	b.Grow(len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(data[i:]) {
				// valid prefix of a multi-byte sequence; wait for the rest
				s.partial = append([]byte(nil), data[i:]...)
				break
			}
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.Write(data[i : i+size])
		i += size
	}
	s.window += b.String()
	return s.sealed()
}

// sealed pops every cluster whose boundary is proven by a following
// character, keeping the trailing cluster in the window.
func (s *segmenter) sealed() []string {
	var out []string
	w := s.window
	for w != "" {
		cluster, rest, _, _ := uniseg.FirstGraphemeClusterInString(w, -1)
		if rest == "" {
			break
		}
		out = append(out, cluster)
		w = rest
	}
	s.window = w
	return out
}

// flush drains the remaining clusters at end-of-input. Bytes still waiting
// on a continuation are a truncated sequence and reported as an encoding
// error.
func (s *segmenter) flush() ([]string, *ParseError) {
	var out []string
	w := s.window
	s.window = ""
	for w != "" {
		cluster, rest, _, _ := uniseg.FirstGraphemeClusterInString(w, -1)
		if cluster == "" {
			break
		}
		out = append(out, cluster)
		w = rest
	}
	if len(s.partial) > 0 {
		s.partial = nil
		return out, newParseError(CodeInvalidEncoding, "invalid character encoding at end of input")
	}
	return out, nil
}

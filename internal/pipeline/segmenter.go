// Package pipeline contains the per-session streaming orchestration core:
// the utterance segmenter that carves a live completion stream into
// sentence-like chunks, and the synthesis dispatcher that turns those chunks
// into audio in strict emission order.
package pipeline

import (
	"strings"
	"unicode/utf8"
)

// DefaultUtteranceMaxChars is the buffer length past which the segmenter
// force-cuts even without a sentence terminator, bounding the latency a
// single long sentence can add before synthesis starts.
const DefaultUtteranceMaxChars = 120

// Segmenter accumulates incremental text fragments and emits utterances as
// soon as a sentence boundary is recognizable. The boundary rule is plain
// punctuation matching: a run ending in '.', '!' or '?' followed by
// whitespace or the end of the buffer. Abbreviations and decimal numbers are
// not treated specially, so "Dr. Smith" cuts after "Dr.".
//
// Segmenter is not safe for concurrent use; exactly one consumer goroutine
// owns it.
type Segmenter struct {
	buf      strings.Builder
	maxChars int
}

// NewSegmenter creates a Segmenter with the given force-cut threshold.
// A non-positive threshold selects DefaultUtteranceMaxChars.
func NewSegmenter(maxChars int) *Segmenter {
	if maxChars <= 0 {
		maxChars = DefaultUtteranceMaxChars
	}
	return &Segmenter{maxChars: maxChars}
}

// Push appends a fragment to the accumulation buffer and returns every
// utterance that became complete, in order. Returned utterances are
// whitespace-trimmed; fragments that trim to nothing are discarded.
func (s *Segmenter) Push(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buf.WriteString(fragment)

	var out []string
	text := s.buf.String()
	for {
		idx := sentenceBoundary(text)
		if idx < 0 {
			break
		}
		cut := strings.TrimSpace(text[:idx+1])
		text = strings.TrimLeft(text[idx+1:], " \t\n\r")
		if cut != "" {
			out = append(out, cut)
		}
	}

	// Force-cut: a buffer past the threshold with no terminator in sight is
	// emitted whole rather than holding back synthesis indefinitely.
	if utf8.RuneCountInString(text) > s.maxChars {
		if cut := strings.TrimSpace(text); cut != "" {
			out = append(out, cut)
		}
		text = ""
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return out
}

// Flush returns any non-empty remainder as a final utterance. It is called
// once when the upstream token stream completes.
func (s *Segmenter) Flush() (string, bool) {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" {
		return "", false
	}
	return rest, true
}

// sentenceBoundary returns the index of the first '.', '!' or '?' that is
// followed by a whitespace character or ends the buffer. Returns -1 if no
// boundary exists in s.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				return i
			}
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// Package chunker splits a growing text stream into TTS-ready sentences.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// MaxBufferChars bounds how long the trailing remainder may grow before it
// is force-flushed as a sentence. Prevents unbounded buffer growth when a
// model emits long output without a terminator.
const MaxBufferChars = 2000

// terminators are the characters that end a sentence when followed by
// whitespace or end of buffer. '~' covers casual Korean sentence endings
// ("그래~"); the rest are the usual ASCII enders.
const terminators = ".!?~"

// Chunker accumulates streamed text deltas and yields completed sentences as
// soon as they are available, retaining the trailing fragment for the next
// call.
type Chunker struct {
	remainder strings.Builder
}

// New returns an empty Chunker.
func New() *Chunker {
	return &Chunker{}
}

// Push appends delta to the buffer and returns the sentences that are now
// complete, in emission order, along with the remaining (incomplete) tail.
// Empty or whitespace-only sentences are discarded. If the remainder alone
// exceeds MaxBufferChars, it is flushed as a sentence and the buffer resets.
func (c *Chunker) Push(delta string) (completed []string, remainder string) {
	c.remainder.WriteString(delta)
	buf := c.remainder.String()

	completed, tail := splitSentences(buf)
	c.remainder.Reset()
	c.remainder.WriteString(tail)

	if utf8.RuneCountInString(c.remainder.String()) > MaxBufferChars {
		overflow := strings.TrimSpace(c.remainder.String())
		c.remainder.Reset()
		if overflow != "" {
			completed = append(completed, overflow)
		}
	}

	return completed, c.remainder.String()
}

// Remainder returns the current unflushed tail without consuming it.
func (c *Chunker) Remainder() string {
	return c.remainder.String()
}

// Flush force-emits the current remainder as a final sentence, if non-empty,
// and resets the buffer. Callers use this at end-of-stream to avoid losing a
// trailing fragment that never received a terminator.
func (c *Chunker) Flush() (sentence string, ok bool) {
	s := strings.TrimSpace(c.remainder.String())
	c.remainder.Reset()
	if s == "" {
		return "", false
	}
	return s, true
}

// splitSentences scans buf for terminator-followed-by-whitespace-or-EOF
// boundaries and returns the completed sentences plus the unterminated tail.
//
// An ellipsis ("...") is collapsed to a single terminator at its last '.' so
// it isn't reported as three empty sentences in a row.
func splitSentences(buf string) (completed []string, tail string) {
	runes := []rune(buf)
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if strings.ContainsRune(terminators, r) {
			// Collapse a run of the same terminator (e.g. "...") to its
			// last occurrence before deciding whether this is a boundary.
			j := i
			for j+1 < len(runes) && runes[j+1] == r {
				j++
			}
			atEnd := j+1 >= len(runes)
			followedByWhitespace := !atEnd && isSpace(runes[j+1])
			if atEnd || followedByWhitespace {
				sentence := strings.TrimSpace(string(runes[start : j+1]))
				if sentence != "" {
					completed = append(completed, sentence)
				}
				// Skip trailing whitespace so the next sentence's start
				// doesn't carry a leading space.
				k := j + 1
				for k < len(runes) && isSpace(runes[k]) {
					k++
				}
				start = k
				i = k
				continue
			}
			i = j + 1
			continue
		}
		i++
	}

	tail = string(runes[start:])
	return completed, tail
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

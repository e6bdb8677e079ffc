// Package frame turns the raw byte stream of a serial link into
// delimiter-terminated JSON messages and back.
package frame

import "bytes"

// DefaultMaxLineLength bounds the bytes buffered while waiting for a
// delimiter.
const DefaultMaxLineLength = 64 * 1024

// Splitter accumulates raw chunks and hands back complete lines without
// their delimiter. It is not safe for concurrent use.
type Splitter struct {
	delim    []byte
	buf      []byte
	max      int
	overflow bool
}

// NewSplitter returns a Splitter for delim. An empty delim means "\n".
func NewSplitter(delim string) *Splitter {
	if delim == "" {
		delim = "\n"
	}
	return &Splitter{
		delim: []byte(delim),
		max:   DefaultMaxLineLength,
	}
}

// SetMaxLineLength changes the overflow limit. n <= 0 restores the default.
func (s *Splitter) SetMaxLineLength(n int) {
	if n <= 0 {
		n = DefaultMaxLineLength
	}
	s.max = n
}

// Feed appends chunk and returns every line completed by it, in order.
// When the buffered tail grows past the limit it is discarded up to the
// next delimiter, and ErrLineTooLong is returned once for that line
// alongside any lines that were complete.
func (s *Splitter) Feed(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.Index(s.buf, s.delim)
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, s.buf[:i])
		s.buf = s.buf[i+len(s.delim):]

		// The remainder of a line that overflowed is dropped too
		if s.overflow {
			s.overflow = false
			continue
		}
		lines = append(lines, line)
	}

	if len(s.buf) > s.max {
		// Keep a possible partial delimiter so a split delimiter still ends the line
		keep := len(s.delim) - 1
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
		if s.overflow {
			return lines, nil
		}
		s.overflow = true
		return lines, ErrLineTooLong
	}

	// Release the backing array once it is drained
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines, nil
}

// Buffered reports how many bytes are waiting for a delimiter.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset drops any partial line.
func (s *Splitter) Reset() {
	s.buf = nil
	s.overflow = false
}

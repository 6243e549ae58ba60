// ABOUTME: Newline-delimited framing for the stdio transport.
// ABOUTME: Accumulates raw chunks and yields complete lines in arrival order.

package mcp

import "bytes"

// lineBuffer reassembles newline-delimited frames from arbitrary read chunks.
// Stdout reads can split a message across chunks or pack several messages into
// one, so bytes are buffered until a delimiter arrives.
type lineBuffer struct {
	buf []byte
}

// Append adds a chunk and returns every line it completed, in order. The
// trailing newline (and any carriage return before it) is stripped. Empty
// lines are dropped. A partial trailing line stays buffered for the next call.
func (b *lineBuffer) Append(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}

		line := make([]byte, i)
		copy(line, b.buf[:i])
		b.buf = b.buf[i+1:]

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}

	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Pending reports how many bytes of an incomplete line are buffered.
func (b *lineBuffer) Pending() int {
	return len(b.buf)
}

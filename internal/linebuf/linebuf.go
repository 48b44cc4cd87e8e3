// Package linebuf reassembles newline-delimited text from arbitrarily fragmented reads.
package linebuf

import "bytes"

// Reassembler accumulates bytes and hands back complete lines. It is not safe
// for concurrent use; the owner serializes Write and Lines.
type Reassembler struct {
	pending []byte
}

// Write appends p to the pending buffer. It never fails.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.pending = append(r.pending, p...)
	return len(p), nil
}

// Lines removes every newline-terminated line from the buffer and returns
// them in order with the newline and one trailing carriage return stripped.
// Empty lines are returned as "" so callers decide whether to skip them.
// Bytes after the last newline stay buffered.
func (r *Reassembler) Lines() []string {
	var lines []string
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := r.pending[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, string(line))
		r.pending = r.pending[i+1:]
	}
	if len(r.pending) == 0 {
		// Drop the backing array once drained so a burst of text does not pin memory.
		r.pending = nil
	}
	return lines
}

// Pending returns a copy of the bytes still waiting for a newline.
func (r *Reassembler) Pending() []byte {
	return append([]byte(nil), r.pending...)
}

// Len reports how many bytes are buffered.
func (r *Reassembler) Len() int { return len(r.pending) }

// Reset discards any buffered partial line.
func (r *Reassembler) Reset() { r.pending = nil }

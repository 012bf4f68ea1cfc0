// File: protocol/assembler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ChunkAssembler buffers received chunks without copying and hands out
// exact-length spans. Only a span that crosses a chunk boundary is copied,
// into one freshly allocated buffer.

package protocol

// ChunkAssembler is an ordered list of not-yet-consumed chunks.
// It is not safe for concurrent use.
type ChunkAssembler struct {
	chunks [][]byte
	size   int
}

// Push appends chunk. The assembler takes ownership; no copy is made.
func (a *ChunkAssembler) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	a.chunks = append(a.chunks, chunk)
	a.size += len(chunk)
}

// Len returns the number of buffered bytes.
func (a *ChunkAssembler) Len() int {
	return a.size
}

// TryTake returns exactly n bytes, or false with the buffers untouched when
// fewer than n bytes are available.
func (a *ChunkAssembler) TryTake(n int) ([]byte, bool) {
	if n < 0 || n > a.size {
		return nil, false
	}
	if n == 0 {
		return []byte{}, true
	}

	first := a.chunks[0]
	switch {
	case n == len(first):
		a.popFront()
		a.size -= n
		return first, true
	case n < len(first):
		// Cap the view so appends by the caller cannot clobber the remainder.
		out := first[:n:n]
		a.chunks[0] = first[n:]
		a.size -= n
		return out, true
	}

	out := make([]byte, n)
	filled := 0
	for filled < n {
		head := a.chunks[0]
		c := copy(out[filled:], head)
		filled += c
		if c == len(head) {
			a.popFront()
		} else {
			a.chunks[0] = head[c:]
		}
	}
	a.size -= n
	return out, true
}

// Reset drops every buffered chunk.
func (a *ChunkAssembler) Reset() {
	a.chunks = nil
	a.size = 0
}

func (a *ChunkAssembler) popFront() {
	a.chunks[0] = nil
	a.chunks = a.chunks[1:]
	if len(a.chunks) == 0 {
		a.chunks = nil
	}
}

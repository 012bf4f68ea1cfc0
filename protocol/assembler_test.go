package protocol_test

import (
	"bytes"
	"testing"

	"github.com/momentics/wsengine/protocol"
)

func TestChunkAssemblerWholeFirstChunk(t *testing.T) {
	var a protocol.ChunkAssembler
	first := []byte("abcd")
	a.Push(first)
	a.Push([]byte("ef"))

	got, ok := a.TryTake(4)
	if !ok {
		t.Fatal("TryTake(4) failed")
	}
	if &got[0] != &first[0] {
		t.Error("whole first chunk should be returned without copying")
	}
	if a.Len() != 2 {
		t.Errorf("Len = %d, want 2", a.Len())
	}
}

func TestChunkAssemblerPrefixView(t *testing.T) {
	var a protocol.ChunkAssembler
	first := []byte("abcdef")
	a.Push(first)

	got, ok := a.TryTake(2)
	if !ok || string(got) != "ab" {
		t.Fatalf("TryTake(2) = %q, %v", got, ok)
	}
	if &got[0] != &first[0] {
		t.Error("prefix should be a view of the first chunk")
	}
	if cap(got) != 2 {
		t.Errorf("prefix view cap = %d, want 2", cap(got))
	}
	rest, ok := a.TryTake(4)
	if !ok || string(rest) != "cdef" {
		t.Fatalf("TryTake(4) = %q, %v", rest, ok)
	}
	if a.Len() != 0 {
		t.Errorf("Len = %d, want 0", a.Len())
	}
}

func TestChunkAssemblerSpanKeepsTail(t *testing.T) {
	var a protocol.ChunkAssembler
	a.Push([]byte("ab"))
	a.Push([]byte("cd"))
	a.Push([]byte("efgh"))

	got, ok := a.TryTake(6)
	if !ok || string(got) != "abcdef" {
		t.Fatalf("TryTake(6) = %q, %v", got, ok)
	}
	if len(got) != 6 || cap(got) != 6 {
		t.Errorf("span buffer len/cap = %d/%d, want 6/6", len(got), cap(got))
	}
	tail, ok := a.TryTake(2)
	if !ok || string(tail) != "gh" {
		t.Fatalf("tail = %q, %v", tail, ok)
	}
}

func TestChunkAssemblerInsufficientLeavesStateUntouched(t *testing.T) {
	var a protocol.ChunkAssembler
	a.Push([]byte("abc"))
	a.Push([]byte("d"))

	if _, ok := a.TryTake(5); ok {
		t.Fatal("TryTake(5) should fail with 4 bytes buffered")
	}
	if a.Len() != 4 {
		t.Fatalf("Len = %d after failed take, want 4", a.Len())
	}
	got, ok := a.TryTake(4)
	if !ok || string(got) != "abcd" {
		t.Fatalf("TryTake(4) = %q, %v", got, ok)
	}
}

func TestChunkAssemblerZeroAndEmpty(t *testing.T) {
	var a protocol.ChunkAssembler
	a.Push(nil)
	a.Push([]byte{})
	if a.Len() != 0 {
		t.Fatalf("empty pushes changed Len to %d", a.Len())
	}
	got, ok := a.TryTake(0)
	if !ok || got == nil || len(got) != 0 {
		t.Fatalf("TryTake(0) = %v, %v", got, ok)
	}
	if _, ok := a.TryTake(-1); ok {
		t.Error("negative take should fail")
	}
}

func TestChunkAssemblerReset(t *testing.T) {
	var a protocol.ChunkAssembler
	a.Push([]byte("abc"))
	a.Reset()
	if a.Len() != 0 {
		t.Fatalf("Len = %d after Reset", a.Len())
	}
	if _, ok := a.TryTake(1); ok {
		t.Error("take after Reset should fail")
	}
}

func TestChunkAssemblerByteAtATime(t *testing.T) {
	var a protocol.ChunkAssembler
	src := []byte("the quick brown fox")
	for i := range src {
		a.Push(src[i : i+1 : i+1])
	}
	var out []byte
	for _, n := range []int{3, 1, 5, 10} {
		b, ok := a.TryTake(n)
		if !ok {
			t.Fatalf("TryTake(%d) failed", n)
		}
		out = append(out, b...)
	}
	if !bytes.Equal(out, src) {
		t.Errorf("reassembled %q, want %q", out, src)
	}
}

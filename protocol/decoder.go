// File: protocol/decoder.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental frame decoder. Each Decode call attempts exactly one stage
// transition, so a caller loops until Decode reports no progress and drains
// a frame whenever one is ready:
//
//	for {
//		advanced, err := d.Decode()
//		if err != nil { ... }
//		if f, ok := d.Frame(); ok { handle(f); d.Reset(); continue }
//		if !advanced { break }
//	}

package protocol

import (
	"encoding/binary"
	"fmt"
)

type decodeStage uint8

const (
	stageInitialOctets decodeStage = iota
	stageExtLen16
	stageExtLen64
	stageMaskKey
	stagePayload
	stageReady
)

func (s decodeStage) String() string {
	switch s {
	case stageInitialOctets:
		return "initial-octets"
	case stageExtLen16:
		return "ext-len-16"
	case stageExtLen64:
		return "ext-len-64"
	case stageMaskKey:
		return "mask-key"
	case stagePayload:
		return "payload"
	case stageReady:
		return "ready"
	default:
		return "unknown"
	}
}

// FrameDecoder turns a chunked byte stream into frames.
// It is not safe for concurrent use.
type FrameDecoder struct {
	asm   ChunkAssembler
	limit uint64
	stage decodeStage

	fin     bool
	opcode  Opcode
	masked  bool
	maskKey [4]byte
	length  uint64

	frame Frame
	err   error
}

// NewFrameDecoder returns a decoder rejecting payloads longer than limit.
func NewFrameDecoder(limit uint64) *FrameDecoder {
	return &FrameDecoder{limit: limit}
}

// SetLimit changes the payload length limit for frames whose length is not
// yet known.
func (d *FrameDecoder) SetLimit(limit uint64) {
	d.limit = limit
}

// Push hands a received chunk to the decoder. No copy is made.
func (d *FrameDecoder) Push(chunk []byte) {
	d.asm.Push(chunk)
}

// Buffered returns the number of received bytes not yet consumed.
func (d *FrameDecoder) Buffered() int {
	return d.asm.Len()
}

// Decode attempts one stage transition and reports whether it advanced.
// A returned error is fatal: the decoder stays failed and every later call
// returns the same error.
func (d *FrameDecoder) Decode() (bool, error) {
	if d.err != nil {
		return false, d.err
	}

	switch d.stage {
	case stageInitialOctets:
		b, ok := d.asm.TryTake(2)
		if !ok {
			return false, nil
		}
		d.fin = b[0]&FinBit != 0
		d.opcode = Opcode(b[0] & OpcodeMask)
		d.masked = b[1]&MaskBit != 0
		switch n := b[1] & LenMask; n {
		case len16Marker:
			d.stage = stageExtLen16
		case len64Marker:
			d.stage = stageExtLen64
		default:
			if err := d.setLength(uint64(n)); err != nil {
				return false, err
			}
		}
		return true, nil

	case stageExtLen16:
		b, ok := d.asm.TryTake(2)
		if !ok {
			return false, nil
		}
		if err := d.setLength(uint64(binary.BigEndian.Uint16(b))); err != nil {
			return false, err
		}
		return true, nil

	case stageExtLen64:
		b, ok := d.asm.TryTake(8)
		if !ok {
			return false, nil
		}
		if hi := binary.BigEndian.Uint32(b); hi != 0 {
			return false, d.fail(fmt.Errorf("%w: 0x%08x", ErrLengthHighWord, hi))
		}
		if err := d.setLength(uint64(binary.BigEndian.Uint32(b[4:]))); err != nil {
			return false, err
		}
		return true, nil

	case stageMaskKey:
		b, ok := d.asm.TryTake(4)
		if !ok {
			return false, nil
		}
		copy(d.maskKey[:], b)
		d.enterPayload()
		return true, nil

	case stagePayload:
		b, ok := d.asm.TryTake(int(d.length))
		if !ok {
			return false, nil
		}
		if d.masked {
			MaskBytes(b, d.maskKey, 0)
		}
		d.complete(b)
		return true, nil
	}

	return false, nil
}

// Frame returns the decoded frame. It is only available between the Decode
// call that reached the ready stage and the next Reset.
func (d *FrameDecoder) Frame() (Frame, bool) {
	if d.stage != stageReady || d.err != nil {
		return Frame{}, false
	}
	return d.frame, true
}

// Reset prepares the decoder for the next frame. It must be called after each
// consumed frame; the decoder never resets itself. A failed decoder stays
// failed.
func (d *FrameDecoder) Reset() {
	d.stage = stageInitialOctets
	d.frame = Frame{}
	d.fin, d.masked = false, false
	d.opcode = 0
	d.length = 0
	d.maskKey = [4]byte{}
}

// Discard drops buffered input. Used at teardown.
func (d *FrameDecoder) Discard() {
	d.asm.Reset()
}

func (d *FrameDecoder) setLength(n uint64) error {
	if n > d.limit {
		return d.fail(fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, d.limit))
	}
	d.length = n
	if d.masked {
		d.stage = stageMaskKey
		return nil
	}
	d.enterPayload()
	return nil
}

func (d *FrameDecoder) enterPayload() {
	if d.length == 0 {
		d.complete([]byte{})
		return
	}
	d.stage = stagePayload
}

func (d *FrameDecoder) complete(payload []byte) {
	d.frame = Frame{
		Fin:           d.fin,
		Opcode:        d.opcode,
		Payload:       payload,
		PayloadLength: d.length,
	}
	d.stage = stageReady
}

func (d *FrameDecoder) fail(err error) error {
	d.err = err
	d.asm.Reset()
	return err
}

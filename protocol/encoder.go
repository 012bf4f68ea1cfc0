// File: protocol/encoder.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame encoder. Produces a header and a body slice ready to be written as one
// vectored write.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// FrameKind selects the FIN bit and opcode placement of an encoded frame.
type FrameKind uint8

const (
	// FrameComplete is a single-frame message: FIN set, opcode as given.
	FrameComplete FrameKind = iota
	// FrameFirst opens a fragmented message: FIN clear, opcode as given.
	FrameFirst
	// FrameMore continues a fragmented message: FIN clear, CONTINUATION.
	FrameMore
	// FrameLast ends a fragmented message: FIN set, CONTINUATION.
	FrameLast
)

func (k FrameKind) String() string {
	switch k {
	case FrameComplete:
		return "complete"
	case FrameFirst:
		return "first"
	case FrameMore:
		return "more"
	case FrameLast:
		return "last"
	default:
		return "unknown"
	}
}

func (k FrameKind) fin() bool {
	return k == FrameComplete || k == FrameLast
}

// FrameEncoder builds outgoing frames. It is safe for concurrent use as long
// as the random source is.
type FrameEncoder struct {
	limit atomic.Uint64
	rand  io.Reader
}

// NewFrameEncoder returns an encoder rejecting payloads longer than limit.
// A nil random source selects crypto/rand.
func NewFrameEncoder(limit uint64, random io.Reader) *FrameEncoder {
	if random == nil {
		random = rand.Reader
	}
	e := &FrameEncoder{rand: random}
	e.limit.Store(limit)
	return e
}

// Limit returns the payload length limit.
func (e *FrameEncoder) Limit() uint64 {
	return e.limit.Load()
}

// SetLimit changes the payload length limit.
func (e *FrameEncoder) SetLimit(limit uint64) {
	e.limit.Store(limit)
}

// Encode builds one frame. When mask is set the payload is masked in place,
// so the caller must not reuse it afterwards.
func (e *FrameEncoder) Encode(kind FrameKind, op Opcode, payload []byte, mask bool) (header, body []byte, err error) {
	n := uint64(len(payload))
	if limit := e.limit.Load(); n > limit {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limit)
	}
	if kind == FrameMore || kind == FrameLast {
		op = OpcodeContinuation
	}

	header = make([]byte, 2, MaxFrameHeaderLen)
	header[0] = byte(op) & OpcodeMask
	if kind.fin() {
		header[0] |= FinBit
	}

	switch {
	case n <= MaxControlPayloadLen:
		header[1] = byte(n)
	case n <= 0xFFFF:
		header[1] = len16Marker
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		header[1] = len64Marker
		header = binary.BigEndian.AppendUint64(header, n)
	}

	if mask {
		var key [4]byte
		if _, err := io.ReadFull(e.rand, key[:]); err != nil {
			return nil, nil, fmt.Errorf("mask key: %w", err)
		}
		header[1] |= MaskBit
		header = append(header, key[:]...)
		MaskBytes(payload, key, 0)
	}

	if payload == nil {
		payload = []byte{}
	}
	return header, payload, nil
}

// EncodeClose builds a COMPLETE/CLOSE frame carrying code and reason.
func (e *FrameEncoder) EncodeClose(code CloseCode, reason string, mask bool) ([]byte, []byte, error) {
	if 2+len(reason) > MaxControlPayloadLen {
		return nil, nil, ErrControlTooLarge
	}
	return e.Encode(FrameComplete, OpcodeClose, ClosePayload(code, reason), mask)
}

// EncodePing builds a COMPLETE/PING frame.
func (e *FrameEncoder) EncodePing(data []byte, mask bool) ([]byte, []byte, error) {
	return e.encodeControl(OpcodePing, data, mask)
}

// EncodePong builds a COMPLETE/PONG frame.
func (e *FrameEncoder) EncodePong(data []byte, mask bool) ([]byte, []byte, error) {
	return e.encodeControl(OpcodePong, data, mask)
}

func (e *FrameEncoder) encodeControl(op Opcode, data []byte, mask bool) ([]byte, []byte, error) {
	if len(data) > MaxControlPayloadLen {
		return nil, nil, ErrControlTooLarge
	}
	return e.Encode(FrameComplete, op, data, mask)
}

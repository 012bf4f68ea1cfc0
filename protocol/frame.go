// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame and message types.

package protocol

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
*/

// Opcode identifies the purpose of a frame.
type Opcode uint8

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

const (
	// Bit masks
	FinBit     = 0x80
	MaskBit    = 0x80
	OpcodeMask = 0x0F
	LenMask    = 0x7F

	// 7-bit length markers
	len16Marker = 126
	len64Marker = 127

	// MaxControlPayloadLen is the RFC 6455 cap on control frame payloads.
	MaxControlPayloadLen = 125
	// MaxFrameHeaderLen covers a 64-bit length plus a mask key.
	MaxFrameHeaderLen = 14

	// DefaultFrameLengthLimit caps single frames and reassembled messages.
	DefaultFrameLengthLimit = 8 << 20 // 8 MiB
)

// IsValid reports whether o is one of the six defined opcodes.
func (o Opcode) IsValid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary,
		OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// IsData reports whether o carries message data.
func (o Opcode) IsData() bool {
	return o == OpcodeContinuation || o == OpcodeText || o == OpcodeBinary
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Frame is one decoded wire unit. It owns Payload, which is already unmasked.
type Frame struct {
	Fin           bool
	Opcode        Opcode
	Payload       []byte
	PayloadLength uint64
}

// MessageType is the data type of a reassembled message.
type MessageType uint8

const (
	MessageText   MessageType = MessageType(OpcodeText)
	MessageBinary MessageType = MessageType(OpcodeBinary)
)

func (t MessageType) String() string {
	return Opcode(t).String()
}

// Message is application data reassembled from one FIRST..LAST frame run.
// It owns Payload.
type Message struct {
	Type    MessageType
	Payload []byte
}

// TotalLength returns the reassembled payload size.
func (m Message) TotalLength() int {
	return len(m.Payload)
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}

// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Protocol-level error values.

package protocol

import "errors"

var (
	ErrFrameTooLarge     = errors.New("frame payload exceeds length limit")
	ErrLengthHighWord    = errors.New("64-bit payload length has non-zero high word")
	ErrMessageTooLarge   = errors.New("message exceeds length limit")
	ErrControlTooLarge   = errors.New("control frame payload exceeds 125 bytes")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrHandshake         = errors.New("handshake failed")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrPongTimeout       = errors.New("pong timeout")
	ErrCloseTimeout      = errors.New("close handshake timeout")
	ErrUnexpectedEOF     = errors.New("transport ended unexpectedly")
)

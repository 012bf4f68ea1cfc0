// File: protocol/connection_read.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive path: transport chunks are decoded synchronously in arrival order,
// and each decoded frame is handled as a task on the receive queue.

package protocol

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/momentics/wsengine/api"
	"go.uber.org/zap"
)

// connStream adapts a Connection to api.StreamHandler without exporting the
// callbacks on Connection itself.
type connStream struct{ c *Connection }

func (s connStream) OnData(chunk []byte) { s.c.receive(chunk) }
func (s connStream) OnEnd(err error)     { s.c.transportEnded(err) }

func (c *Connection) receive(chunk []byte) {
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()

	switch c.ReadyState() {
	case api.StateClosed:
		c.dec.Discard()
		return
	case api.StateConnecting:
		c.handshakeLocked(chunk)
	default:
		c.dec.Push(chunk)
	}
	c.decodeLocked()
}

// decodeLocked drains every complete frame from the decoder. Called with
// decodeMu held.
func (c *Connection) decodeLocked() {
	if st := c.ReadyState(); st == api.StateConnecting || st == api.StateClosed {
		return
	}
	for {
		advanced, err := c.dec.Decode()
		if err != nil {
			if !c.decodeFailed {
				c.decodeFailed = true
				// Queued behind the frames already decoded so they are still
				// handled in order.
				c.recvQ.Enqueue(func() error {
					c.fail(err)
					return err
				})
			}
			return
		}
		if f, ok := c.dec.Frame(); ok {
			c.dec.Reset()
			c.recvQ.Enqueue(func() error { return c.handleFrame(f) })
			continue
		}
		if !advanced {
			return
		}
	}
}

// handleFrame runs on the receive queue.
func (c *Connection) handleFrame(f Frame) error {
	st := c.ReadyState()
	if st == api.StateClosed {
		return nil
	}
	n := len(f.Payload)
	c.framesReceived.Add(1)
	c.bytesReceived.Add(int64(n))
	c.obs.FrameReceived(f.Opcode, n)
	c.touch()

	if err := checkFrame(f); err != nil {
		c.fail(err)
		return err
	}
	if st == api.StateClosing && f.Opcode != OpcodeClose {
		// Draining until the peer's close frame arrives.
		return nil
	}

	switch f.Opcode {
	case OpcodeClose:
		return c.handlePeerClose(f.Payload)
	case OpcodePing:
		c.replyPong(f.Payload)
		return nil
	case OpcodePong:
		c.pongReceived()
		return nil
	default:
		return c.reassemble(f)
	}
}

func checkFrame(f Frame) error {
	switch {
	case !f.Opcode.IsValid():
		return fmt.Errorf("%w: reserved opcode 0x%x", ErrProtocolViolation, uint8(f.Opcode))
	case f.Opcode.IsControl() && !f.Fin:
		return fmt.Errorf("%w: fragmented %s frame", ErrProtocolViolation, f.Opcode)
	case f.Opcode.IsControl() && len(f.Payload) > MaxControlPayloadLen:
		return fmt.Errorf("%w: %s payload of %d bytes", ErrProtocolViolation, f.Opcode, len(f.Payload))
	}
	return nil
}

// reassemble accumulates a data frame and delivers the message on FIN.
func (c *Connection) reassemble(f Frame) error {
	switch f.Opcode {
	case OpcodeText, OpcodeBinary:
		if c.msgOpen {
			err := fmt.Errorf("%w: %s frame inside an unfinished message", ErrProtocolViolation, f.Opcode)
			c.fail(err)
			return err
		}
		c.msgOpen = true
		c.msgType = MessageType(f.Opcode)
	case OpcodeContinuation:
		if !c.msgOpen {
			err := fmt.Errorf("%w: continuation without a message", ErrProtocolViolation)
			c.fail(err)
			return err
		}
	}

	c.msgLen += uint64(len(f.Payload))
	if limit := c.limit.Load(); c.msgLen > limit {
		err := fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, c.msgLen, limit)
		c.resetMessage()
		c.fail(err)
		return err
	}
	c.msgParts = append(c.msgParts, f.Payload)
	if !f.Fin {
		return nil
	}

	msg := Message{Type: c.msgType, Payload: joinParts(c.msgParts, int(c.msgLen))}
	c.resetMessage()
	if msg.Type == MessageText && !utf8.Valid(msg.Payload) {
		err := &CloseError{Code: CloseInvalidPayloadData, Reason: "invalid UTF-8"}
		c.fail(err)
		return err
	}

	c.messages.Add(1)
	c.mu.Lock()
	fns := c.onMessage.snapshot()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (c *Connection) resetMessage() {
	c.msgOpen = false
	c.msgParts = nil
	c.msgLen = 0
}

// joinParts returns the single part as is, or one buffer holding all parts.
func joinParts(parts [][]byte, total int) []byte {
	if len(parts) == 1 {
		return parts[0]
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (c *Connection) replyPong(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != api.StateOpen {
		return
	}
	c.writeQ.Enqueue(func() error { return c.writeFrame(FrameComplete, OpcodePong, payload) })
}

// transportEnded routes the end of the stream through the receive queue so
// frames that arrived before it are handled first.
func (c *Connection) transportEnded(err error) {
	c.recvQ.Enqueue(func() error {
		c.handleEnd(err)
		return nil
	})
}

func (c *Connection) handleEnd(err error) {
	c.mu.Lock()
	st := c.state
	clean := c.closeSent && c.closeRecv
	code, reason := c.peerCode, c.peerReason
	failure := c.failure
	c.mu.Unlock()

	switch {
	case st == api.StateClosed:
		return
	case failure != nil:
		c.teardown(*failure)
	case clean:
		c.teardown(CloseEvent{Code: code, Reason: reason, WasClean: true})
	default:
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrUnexpectedEOF
		}
		c.log.Debug("transport ended", zap.Error(err))
		c.teardown(CloseEvent{Code: CloseAbnormalClosure, Reason: "transport ended", Err: err})
	}
}

// File: protocol/connection_close.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close handshake, keepalive timers and teardown.

package protocol

import (
	"errors"
	"unicode/utf8"

	"github.com/momentics/wsengine/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Close starts the closing handshake with code and reason. It returns without
// waiting; Done reports the end. A zero code means CloseNormalClosure.
// Closing a CONNECTING connection tears it down at once; closing a CLOSING or
// CLOSED connection does nothing.
func (c *Connection) Close(code CloseCode, reason string) error {
	if code == 0 {
		code = CloseNormalClosure
	}
	if !code.IsValid() {
		return api.NewError(api.ErrCodeInvalidArgument, "close code cannot be sent").
			WithContext("code", int(code))
	}
	if 2+len(reason) > MaxControlPayloadLen {
		return ErrControlTooLarge
	}
	if !utf8.ValidString(reason) {
		return api.NewError(api.ErrCodeInvalidArgument, "close reason is not UTF-8")
	}

	c.mu.Lock()
	switch c.state {
	case api.StateClosing, api.StateClosed:
		c.mu.Unlock()
		return nil
	case api.StateConnecting:
		c.mu.Unlock()
		c.teardown(CloseEvent{Code: CloseAbnormalClosure, Reason: reason})
		return nil
	}
	c.state = api.StateClosing
	c.closeSent = true
	c.cancelKeepaliveLocked()
	c.closeTimer = c.cfg.Scheduler.Schedule(c.cfg.CloseTimeout, c.onCloseTimeout)
	payload := ClosePayload(code, reason)
	c.writeQ.Enqueue(func() error { return c.writeFrame(FrameComplete, OpcodeClose, payload) })
	c.mu.Unlock()

	c.log.Debug("close initiated", zap.Uint16("code", uint16(code)), zap.String("reason", reason))
	return nil
}

// handlePeerClose reacts to a received close frame. While OPEN the peer's code
// is echoed and the connection tears down once the echo is written. While
// CLOSING the peer's frame completes the exchange we started.
func (c *Connection) handlePeerClose(payload []byte) error {
	code, reason, err := ParseClosePayload(payload)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.closeRecv = true
	c.peerCode, c.peerReason = code, reason
	ev := CloseEvent{Code: code, Reason: reason, WasClean: true}

	switch c.state {
	case api.StateOpen:
		c.state = api.StateClosing
		c.closeSent = true
		c.cancelKeepaliveLocked()
		c.closeTimer = c.cfg.Scheduler.Schedule(c.cfg.CloseTimeout, c.onCloseTimeout)
		echo := ClosePayload(code, reason)
		c.writeQ.Enqueue(func() error {
			err := c.writeFrame(FrameComplete, OpcodeClose, echo)
			c.teardown(ev)
			return err
		})
		c.mu.Unlock()
		c.log.Debug("close received", zap.Uint16("code", uint16(code)))
		return nil

	case api.StateClosing:
		if c.failure != nil {
			ev = *c.failure
		}
		c.mu.Unlock()
		c.teardown(ev)
		return nil
	}
	c.mu.Unlock()
	return nil
}

// fail ends the connection after a protocol or limit violation: a close frame
// carrying the matching status is sent if none was, then the connection tears
// down.
func (c *Connection) fail(err error) {
	code := closeCodeFor(err)
	ev := CloseEvent{Code: code, Reason: closeReasonFor(err, code), Err: err}

	c.mu.Lock()
	if c.state == api.StateClosed {
		c.mu.Unlock()
		return
	}
	if c.failure == nil {
		c.failure = &ev
	}
	ev = *c.failure
	if c.state == api.StateConnecting || c.closeSent {
		c.mu.Unlock()
		c.teardown(ev)
		return
	}
	c.state = api.StateClosing
	c.closeSent = true
	c.cancelKeepaliveLocked()
	c.closeTimer = c.cfg.Scheduler.Schedule(c.cfg.CloseTimeout, c.onCloseTimeout)
	payload := ClosePayload(ev.Code, ev.Reason)
	c.writeQ.Enqueue(func() error {
		werr := c.writeFrame(FrameComplete, OpcodeClose, payload)
		c.teardown(ev)
		return werr
	})
	c.mu.Unlock()

	c.log.Warn("closing on protocol failure", zap.Error(err), zap.Uint16("code", uint16(code)))
}

// abort tears down after a transport fault. No close frame is attempted.
func (c *Connection) abort(err error) {
	c.teardown(CloseEvent{Code: CloseAbnormalClosure, Reason: "abnormal closure", Err: err})
}

func closeCodeFor(err error) CloseCode {
	var ce *CloseError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	default:
		return CloseProtocolError
	}
}

func closeReasonFor(err error, code CloseCode) string {
	var ce *CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	switch code {
	case CloseMessageTooBig:
		return "message too big"
	case CloseInvalidPayloadData:
		return "invalid payload data"
	default:
		return "protocol error"
	}
}

func (c *Connection) onCloseTimeout() {
	c.mu.Lock()
	if c.state == api.StateClosed {
		c.mu.Unlock()
		return
	}
	c.closeTimer = nil
	ev := CloseEvent{Code: CloseAbnormalClosure, Reason: "close timeout", Err: ErrCloseTimeout}
	if c.failure != nil {
		ev = *c.failure
	}
	c.mu.Unlock()
	c.log.Warn("close handshake timed out")
	c.teardown(ev)
}

// touch reschedules the keepalive ping after inbound traffic.
func (c *Connection) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == api.StateOpen {
		c.schedulePingLocked()
	}
}

// schedulePingLocked (re)arms the ping timer. Only servers initiate
// keepalive. Called with mu held.
func (c *Connection) schedulePingLocked() {
	if c.role != api.RoleServer || c.cfg.PingInterval <= 0 {
		return
	}
	if c.pingTimer != nil {
		c.pingTimer.Cancel()
	}
	c.pingGen++
	gen := c.pingGen
	c.pingTimer = c.cfg.Scheduler.Schedule(c.cfg.PingInterval, func() { c.onPingTimer(gen) })
}

func (c *Connection) onPingTimer(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != api.StateOpen || gen != c.pingGen {
		return
	}
	c.pingTimer = nil
	if c.pongTimer != nil {
		// Still waiting on the previous ping.
		c.schedulePingLocked()
		return
	}
	c.pongGen++
	pgen := c.pongGen
	c.pongTimer = c.cfg.Scheduler.Schedule(c.cfg.PongTimeout, func() { c.onPongTimeout(pgen) })
	c.writeQ.Enqueue(func() error { return c.writeFrame(FrameComplete, OpcodePing, nil) })
}

func (c *Connection) pongReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pongTimer != nil {
		c.pongTimer.Cancel()
		c.pongTimer = nil
		c.pongGen++
	}
}

func (c *Connection) onPongTimeout(gen uint64) {
	c.mu.Lock()
	if c.state == api.StateClosed || gen != c.pongGen || c.pongTimer == nil {
		c.mu.Unlock()
		return
	}
	c.pongTimer = nil
	c.mu.Unlock()
	c.log.Warn("pong timeout")
	c.teardown(CloseEvent{Code: CloseAbnormalClosure, Reason: "pong timeout", Err: ErrPongTimeout})
}

// cancelKeepaliveLocked stops the ping and pong timers. Called with mu held.
func (c *Connection) cancelKeepaliveLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Cancel()
		c.pingTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Cancel()
		c.pongTimer = nil
	}
	c.pingGen++
	c.pongGen++
}

// teardown moves to CLOSED exactly once: timers are cleared, both queues are
// disposed, the transport is closed and OnClose subscribers are notified.
// It never takes decodeMu, so the receive path may call it.
func (c *Connection) teardown(ev CloseEvent) {
	c.mu.Lock()
	if c.state == api.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = api.StateClosed
	c.cancelKeepaliveLocked()
	if c.closeTimer != nil {
		c.closeTimer.Cancel()
		c.closeTimer = nil
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Cancel()
		c.handshakeTimer = nil
	}
	closers := c.onClose.snapshot()
	c.onOpen.clear()
	c.onMessage.clear()
	c.onClose.clear()
	wasOpen := c.wasOpen
	c.closeEvent = ev
	c.err = ev.Err
	c.mu.Unlock()

	c.writeQ.Dispose()
	c.recvQ.Dispose()

	err := ev.Err
	if cerr := c.tr.Close(); cerr != nil && !errors.Is(cerr, api.ErrTransportClosed) {
		err = multierr.Append(err, cerr)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}

	if wasOpen {
		c.obs.ConnectionClosed(c.role, ev)
	}
	fields := []zap.Field{
		zap.Uint16("code", uint16(ev.Code)),
		zap.String("reason", ev.Reason),
		zap.Bool("clean", ev.WasClean),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Info("connection closed", fields...)

	for _, fn := range closers {
		fn(ev)
	}
	close(c.done)
}

// File: protocol/connection_handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Opening handshake driven over the raw stream while CONNECTING.

package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"

	"github.com/momentics/wsengine/api"
	"go.uber.org/zap"
)

var headTerminator = []byte("\r\n\r\n")

// handshakeLocked accumulates the peer's HTTP head and completes the
// handshake once it is whole. Bytes after the head are pushed to the decoder.
// Called with decodeMu held.
func (c *Connection) handshakeLocked(chunk []byte) {
	if c.rejecting {
		return
	}
	c.head = append(c.head, chunk...)
	end := bytes.Index(c.head, headTerminator)
	if end < 0 {
		if len(c.head) > MaxHandshakeHeadersSize {
			c.handshakeFailed(ErrHandshakeTooLarge)
		}
		return
	}
	end += len(headTerminator)
	if end > MaxHandshakeHeadersSize {
		c.handshakeFailed(ErrHandshakeTooLarge)
		return
	}
	head, rest := c.head[:end], c.head[end:]
	c.head = nil

	var err error
	if c.role == api.RoleServer {
		req, perr := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
		if perr != nil {
			c.handshakeFailed(fmt.Errorf("%w: %v", ErrHandshake, perr))
			return
		}
		err = c.acceptRequest(req)
	} else {
		err = c.acceptResponse(head)
	}
	if err == nil && len(rest) > 0 {
		c.dec.Push(rest)
	}
}

// acceptRequest validates a server-side upgrade request, queues the 101
// response and opens the connection. Called with decodeMu held.
func (c *Connection) acceptRequest(req *http.Request) error {
	key, err := ValidateUpgradeRequest(req)
	if err != nil {
		c.handshakeFailed(err)
		return err
	}
	sub := SelectSubprotocol(ParseSubprotocols(req.Header), c.cfg.Subprotocols)
	resp := UpgradeResponse(key, sub)

	c.mu.Lock()
	if c.state != api.StateConnecting {
		c.mu.Unlock()
		return api.ErrNotOpen
	}
	// The response is queued before the state flips so it precedes every frame.
	c.writeQ.Enqueue(func() error { return c.writeRaw(resp) })
	c.openLocked(sub)
	c.mu.Unlock()

	c.log.Debug("upgrade accepted", zap.String("path", req.URL.Path), zap.String("subprotocol", sub))
	c.opened()
	return nil
}

// acceptResponse verifies the server's answer to our upgrade request.
func (c *Connection) acceptResponse(head []byte) error {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrHandshake, err)
		c.handshakeFailed(err)
		return err
	}
	c.mu.Lock()
	key := c.requestKey
	c.mu.Unlock()

	sub, err := VerifyUpgradeResponse(resp, key, c.cfg.Subprotocols)
	if err != nil {
		c.handshakeFailed(err)
		return err
	}

	c.mu.Lock()
	if c.state != api.StateConnecting {
		c.mu.Unlock()
		return api.ErrNotOpen
	}
	c.openLocked(sub)
	c.mu.Unlock()

	c.log.Debug("upgrade confirmed", zap.String("subprotocol", sub))
	c.opened()
	return nil
}

// handshakeFailed ends a CONNECTING connection. A server answers with HTTP 400
// first. Called with decodeMu held.
func (c *Connection) handshakeFailed(err error) {
	c.log.Warn("handshake failed", zap.Error(err))
	ev := CloseEvent{Code: CloseAbnormalClosure, Reason: "handshake failed", Err: err}
	c.head = nil
	if c.role != api.RoleServer {
		c.teardown(ev)
		return
	}
	c.rejecting = true
	c.tr.Send([][]byte{RejectionResponse(err.Error())}, func(error) {
		c.teardown(ev)
	})
}

// openLocked performs the CONNECTING to OPEN transition. Called with mu held.
func (c *Connection) openLocked(subprotocol string) {
	c.state = api.StateOpen
	c.subprotocol = subprotocol
	c.wasOpen = true
	c.obs.ConnectionOpened(c.role)
	if c.handshakeTimer != nil {
		c.handshakeTimer.Cancel()
		c.handshakeTimer = nil
	}
	c.schedulePingLocked()
}

// opened queues the OPEN event ahead of any message.
func (c *Connection) opened() {
	c.log.Info("connection open")
	c.recvQ.Enqueue(func() error {
		c.mu.Lock()
		fns := c.onOpen.snapshot()
		c.mu.Unlock()
		for _, fn := range fns {
			fn(struct{}{})
		}
		return nil
	})
}

func (c *Connection) onHandshakeTimeout() {
	c.mu.Lock()
	if c.state != api.StateConnecting {
		c.mu.Unlock()
		return
	}
	c.handshakeTimer = nil
	c.mu.Unlock()
	c.log.Warn("handshake timeout")
	c.teardown(CloseEvent{Code: CloseAbnormalClosure, Reason: "handshake timeout", Err: ErrHandshakeTimeout})
}

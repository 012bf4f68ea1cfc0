// File: transport/gnet/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package gnet

import (
	"io"
	"sync"

	"github.com/panjf2000/gnet/v2"

	"github.com/momentics/wsengine/api"
)

var _ api.Transport = (*stream)(nil)

// stream is the api.Transport view of one gnet.Conn. deliver and end run on
// the connection's event loop, so handler calls are never concurrent.
type stream struct {
	c      gnet.Conn
	remote string

	mu      sync.Mutex
	handler api.StreamHandler
	closed  bool
	ended   bool
}

func newStream(c gnet.Conn) *stream {
	s := &stream{c: c}
	if addr := c.RemoteAddr(); addr != nil {
		s.remote = addr.String()
	}
	return s
}

func (s *stream) Start(h api.StreamHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return api.ErrAlreadyStarted
	}
	s.handler = h
	return nil
}

func (s *stream) deliver(chunk []byte) {
	s.mu.Lock()
	h := s.handler
	skip := s.ended
	s.mu.Unlock()
	if h != nil && !skip {
		h.OnData(chunk)
	}
}

func (s *stream) end(err error) {
	s.mu.Lock()
	h := s.handler
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.closed {
		err = api.ErrTransportClosed
	} else if err == nil {
		err = io.EOF
	}
	s.mu.Unlock()
	if h != nil {
		h.OnEnd(err)
	}
}

// Send queues bufs on the event loop. The write callback reports completion.
func (s *stream) Send(bufs [][]byte, done func(error)) {
	s.mu.Lock()
	closed := s.closed || s.ended
	s.mu.Unlock()
	if closed {
		done(api.ErrTransportClosed)
		return
	}
	err := s.c.AsyncWritev(bufs, func(_ gnet.Conn, err error) error {
		done(err)
		return nil
	})
	if err != nil {
		done(err)
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.c.Close()
}

func (s *stream) RemoteAddr() string {
	return s.remote
}

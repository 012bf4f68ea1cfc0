// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/wsengine/api"
	"go.uber.org/zap"
)

// DefaultReadBufferSize is the read size used when Options leaves it zero.
const DefaultReadBufferSize = 32 << 10

// Options tunes streams and accepted sockets.
type Options struct {
	// NoDelay disables Nagle's algorithm.
	NoDelay bool
	// KeepAlive is the TCP keepalive idle time; zero leaves the OS default.
	KeepAlive time.Duration
	// ReadBufferSize bounds a single read; zero means DefaultReadBufferSize.
	ReadBufferSize int
	// WriteTimeout, when positive, is applied as a deadline to every Send.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) normalize() Options {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Ensure compile-time interface compliance.
var _ api.Transport = (*Stream)(nil)

// Stream is an api.Transport over a net.Conn.
type Stream struct {
	conn    net.Conn
	opts    Options
	log     *zap.Logger
	started atomic.Bool
	closed  atomic.Bool

	wmu sync.Mutex

	closeOnce sync.Once
}

// NewStream wraps conn. The stream owns conn from now on.
func NewStream(conn net.Conn, opts Options) *Stream {
	opts = opts.normalize()
	return &Stream{
		conn: conn,
		opts: opts,
		log:  opts.Logger.With(zap.String("remote", addrString(conn.RemoteAddr()))),
	}
}

// Start implements api.Transport.
func (s *Stream) Start(h api.StreamHandler) error {
	if !s.started.CompareAndSwap(false, true) {
		return api.ErrAlreadyStarted
	}
	go s.readLoop(h)
	return nil
}

func (s *Stream) readLoop(h api.StreamHandler) {
	buf := make([]byte, s.opts.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			h.OnData(bytes.Clone(buf[:n]))
		}
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				err = api.ErrTransportClosed
			}
			s.log.Debug("read loop finished", zap.Error(err))
			h.OnEnd(err)
			return
		}
	}
}

// Send implements api.Transport. The write runs on the calling goroutine and
// done is invoked before Send returns.
func (s *Stream) Send(bufs [][]byte, done func(error)) {
	if s.closed.Load() {
		done(api.ErrTransportClosed)
		return
	}
	// WriteTo consumes its receiver.
	nb := append(net.Buffers(nil), bufs...)

	s.wmu.Lock()
	if s.opts.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	_, err := nb.WriteTo(s.conn)
	s.wmu.Unlock()

	if err != nil && s.closed.Load() {
		err = api.ErrTransportClosed
	}
	done(err)
}

// Close implements api.Transport. Only the first call reports the close error.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr implements api.Transport.
func (s *Stream) RemoteAddr() string {
	return addrString(s.conn.RemoteAddr())
}

// Conn returns the wrapped connection.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

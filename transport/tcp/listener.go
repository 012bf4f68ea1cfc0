// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"fmt"
	"net"

	"go.uber.org/zap"
)

// Listener accepts TCP connections and returns them as tuned Streams.
type Listener struct {
	ln   net.Listener
	opts Options
}

// Listen binds addr ("host:port").
func Listen(addr string, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen failed: %w", err)
	}
	return NewListener(ln, opts), nil
}

// NewListener wraps an existing listener.
func NewListener(ln net.Listener, opts Options) *Listener {
	return &Listener{ln: ln, opts: opts.normalize()}
}

// Accept waits for the next connection. A tuning failure is logged and the
// connection is still returned.
func (l *Listener) Accept() (*Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if err := Tune(conn, l.opts); err != nil {
		l.opts.Logger.Warn("socket tuning failed",
			zap.String("remote", addrString(conn.RemoteAddr())), zap.Error(err))
	}
	return NewStream(conn, l.opts), nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting. Streams already returned stay open.
func (l *Listener) Close() error {
	return l.ln.Close()
}

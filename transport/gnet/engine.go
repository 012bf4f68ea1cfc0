// File: transport/gnet/engine.go
// Package gnet serves WebSocket connections on gnet event loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each accepted gnet.Conn becomes a server-role protocol.Connection. Inbound
// bytes are copied out of the loop buffer and handed to the connection on
// the event loop goroutine; writes go through AsyncWritev.

package gnet

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/internal/session"
	"github.com/momentics/wsengine/protocol"
)

// Config configures an Engine.
type Config struct {
	Addr         string // host:port
	Multicore    bool
	NumEventLoop int
	ReusePort    bool
	// Conn is the template for every accepted connection. Role is forced to
	// server.
	Conn   *protocol.Config
	Logger *zap.Logger
}

// Handler is called for each accepted connection before it starts, so
// subscriptions registered in it see every event.
type Handler func(*protocol.Connection)

// Engine is a gnet.EventHandler running server-role WebSocket connections.
type Engine struct {
	gnet.BuiltinEventEngine

	cfg     Config
	handler Handler
	log     *zap.Logger

	eng     gnet.Engine
	booted  chan struct{}
	stopped atomic.Bool

	conns *session.Registry[*protocol.Connection]
}

// NewEngine validates cfg and returns an engine ready to Run.
func NewEngine(cfg Config, handler Handler) (*Engine, error) {
	if cfg.Addr == "" {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "gnet engine requires an address")
	}
	if handler == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil connection handler")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	conn := protocol.DefaultConfig()
	if cfg.Conn != nil {
		c := *cfg.Conn
		conn = &c
	}
	conn.Role = api.RoleServer
	if conn.Logger == nil {
		conn.Logger = cfg.Logger
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	cfg.Conn = conn

	return &Engine{
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger.Named("gnet"),
		booted:  make(chan struct{}),
		conns:   session.NewRegistry[*protocol.Connection](0),
	}, nil
}

// Run serves until Stop is called. It blocks.
func (e *Engine) Run() error {
	opts := []gnet.Option{
		gnet.WithMulticore(e.cfg.Multicore),
		gnet.WithReusePort(e.cfg.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLogger(e.log.Sugar()),
	}
	if e.cfg.NumEventLoop > 0 {
		opts = append(opts, gnet.WithNumEventLoop(e.cfg.NumEventLoop))
	}
	e.log.Info("starting gnet engine",
		zap.String("addr", e.cfg.Addr),
		zap.Bool("multicore", e.cfg.Multicore))
	if err := gnet.Run(e, "tcp://"+e.cfg.Addr, opts...); err != nil {
		return fmt.Errorf("gnet run: %w", err)
	}
	return nil
}

// Booted is closed once the engine listens.
func (e *Engine) Booted() <-chan struct{} {
	return e.booted
}

// Count returns the number of live connections.
func (e *Engine) Count() int {
	return e.conns.Len()
}

// Stop starts the closing handshake on every live connection with
// CloseGoingAway, waits for them to finish or ctx to expire, then stops the
// event loops.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	live := e.conns.Seal()
	for _, c := range live {
		err = multierr.Append(err, c.Close(protocol.CloseGoingAway, "server shutdown"))
	}
	for _, c := range live {
		select {
		case <-c.Done():
		case <-ctx.Done():
			err = multierr.Append(err, ctx.Err())
			return multierr.Append(err, e.stopEngine(ctx))
		}
	}
	return multierr.Append(err, e.stopEngine(ctx))
}

func (e *Engine) stopEngine(ctx context.Context) error {
	select {
	case <-e.booted:
	default:
		return nil
	}
	if err := e.eng.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gnet stop: %w", err)
	}
	return nil
}

// OnBoot implements gnet.EventHandler.
func (e *Engine) OnBoot(eng gnet.Engine) gnet.Action {
	e.eng = eng
	close(e.booted)
	e.log.Info("gnet engine listening", zap.String("addr", e.cfg.Addr))
	return gnet.None
}

// OnOpen implements gnet.EventHandler.
func (e *Engine) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if e.stopped.Load() {
		return nil, gnet.Close
	}
	st := newStream(c)
	conn, err := protocol.NewConnection(st, e.cfg.Conn)
	if err != nil {
		e.log.Error("connection setup failed", zap.Error(err))
		return nil, gnet.Close
	}
	id, ok := e.conns.Add(conn)
	if !ok {
		return nil, gnet.Close
	}
	c.SetContext(st)
	conn.OnClose(func(protocol.CloseEvent) { e.conns.Remove(id) })

	e.handler(conn)
	if err := conn.Start(); err != nil {
		e.log.Warn("connection start failed", zap.Error(err))
		return nil, gnet.Close
	}
	return nil, gnet.None
}

// OnTraffic implements gnet.EventHandler.
func (e *Engine) OnTraffic(c gnet.Conn) gnet.Action {
	st, ok := c.Context().(*stream)
	if !ok {
		return gnet.Close
	}
	buf, err := c.Next(-1)
	if err != nil {
		e.log.Debug("read failed", zap.Error(err))
		return gnet.Close
	}
	if len(buf) > 0 {
		// buf belongs to the loop and is reused after we return.
		st.deliver(append([]byte(nil), buf...))
	}
	return gnet.None
}

// OnClose implements gnet.EventHandler.
func (e *Engine) OnClose(c gnet.Conn, err error) gnet.Action {
	if st, ok := c.Context().(*stream); ok {
		st.end(err)
	}
	return gnet.None
}

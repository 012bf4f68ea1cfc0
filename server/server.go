// File: server/server.go
// Package server accepts TCP connections or HTTP upgrades and runs them as
// server-role WebSocket connections.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/internal/session"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transport/tcp"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

var _ api.GracefulShutdown = (*Server)(nil)

// Server tracks live connections and shuts them down with CloseGoingAway.
type Server struct {
	cfg     Config
	handler Handler
	log     *zap.Logger
	ctrl    *control.Controller

	limit    atomic.Uint64
	accepted atomic.Int64

	conns *session.Registry[*protocol.Connection]

	mu        sync.Mutex
	closing   bool
	listeners map[*tcp.Listener]struct{}
}

// New builds a server that hands every connection to handler.
func New(cfg *Config, handler Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil connection handler")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	conn := protocol.DefaultConfig()
	if c.Conn != nil {
		cc := *c.Conn
		conn = &cc
	}
	c.Conn = conn

	s := &Server{
		cfg:       c,
		handler:   handler,
		conns:     session.NewRegistry[*protocol.Connection](0),
		listeners: make(map[*tcp.Listener]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.Logger == nil {
		s.cfg.Logger = zap.NewNop()
	}
	s.log = s.cfg.Logger.Named("server")
	s.cfg.Conn.Role = api.RoleServer
	if s.cfg.Conn.Logger == nil {
		s.cfg.Conn.Logger = s.cfg.Logger
	}
	if err := s.cfg.Conn.Validate(); err != nil {
		return nil, err
	}
	s.limit.Store(s.cfg.Conn.FrameLengthLimit)
	if s.ctrl != nil {
		s.bindController()
	}
	return s, nil
}

func (s *Server) bindController() {
	s.ctrl.RegisterDebugProbe("server.active_connections", func() any { return s.Count() })
	s.ctrl.RegisterDebugProbe("server.accepted_total", func() any { return s.accepted.Load() })
	s.ctrl.RegisterDebugProbe("server.frame_length_limit", func() any { return s.limit.Load() })
	control.RegisterPlatformProbes(s.ctrl.Probes())
	s.ctrl.OnReload(s.applyControl)
	s.applyControl()
}

func (s *Server) applyControl() {
	if n, ok := s.ctrl.FrameLengthLimit(); ok && n != s.limit.Load() {
		s.SetFrameLengthLimit(n)
	}
}

// SetFrameLengthLimit changes the payload cap of new and live connections.
func (s *Server) SetFrameLengthLimit(n uint64) {
	s.limit.Store(n)
	live := s.conns.Snapshot()
	for _, c := range live {
		c.SetFrameLengthLimit(n)
	}
	s.log.Info("frame length limit updated", zap.Uint64("limit", n), zap.Int("live", len(live)))
}

// Control returns the attached controller, nil when none was configured.
func (s *Server) Control() api.Control {
	if s.ctrl == nil {
		return nil
	}
	return s.ctrl
}

// connConfig is the template for the next connection. Controller durations
// only affect connections accepted after a reload.
func (s *Server) connConfig() *protocol.Config {
	c := *s.cfg.Conn
	c.FrameLengthLimit = s.limit.Load()
	if s.ctrl != nil {
		if d, ok := s.ctrl.Duration(control.KeyPingInterval); ok {
			c.PingInterval = d
		}
		if d, ok := s.ctrl.Duration(control.KeyCloseTimeout); ok && d > 0 {
			c.CloseTimeout = d
		}
	}
	return &c
}

func (s *Server) tcpOptions() tcp.Options {
	return tcp.Options{
		NoDelay:        s.cfg.NoDelay,
		KeepAlive:      s.cfg.KeepAlive,
		ReadBufferSize: s.cfg.ReadBufferSize,
		WriteTimeout:   s.cfg.WriteTimeout,
		Logger:         s.cfg.Logger,
	}
}

// Listen binds Config.Addr.
func (s *Server) Listen() (*tcp.Listener, error) {
	return tcp.Listen(s.cfg.Addr, s.tcpOptions())
}

// ListenAndServe binds Config.Addr and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown or a permanent accept
// error. Every accepted stream speaks the WebSocket opening handshake
// directly. Serve always closes ln.
func (s *Server) Serve(ln *tcp.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		_ = ln.Close()
	}()

	s.log.Info("serving", zap.Stringer("addr", ln.Addr()))
	var delay time.Duration
	for {
		st, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = backoff(delay)
				s.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		s.accepted.Add(1)
		s.serveStream(st)
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) serveStream(st api.Transport) {
	conn, err := protocol.NewConnection(st, s.connConfig())
	if err != nil {
		s.log.Error("connection setup failed", zap.Error(err))
		_ = st.Close()
		return
	}
	if !s.track(conn) {
		_ = st.Close()
		return
	}
	s.handler(conn)
	if err := conn.Start(); err != nil {
		s.log.Debug("connection start failed", zap.Error(err))
	}
}

// ServeHTTP upgrades r and runs the connection. It lets the server sit behind
// a net/http mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	u := Upgrader{Config: s.connConfig(), TCP: s.tcpOptions(), Logger: s.cfg.Logger}
	tracked := false
	conn, err := u.Upgrade(w, r, func(c *protocol.Connection) {
		if tracked = s.track(c); tracked {
			s.handler(c)
		}
	})
	if err != nil {
		return
	}
	s.accepted.Add(1)
	if !tracked {
		_ = conn.Close(protocol.CloseGoingAway, "server shutting down")
	}
}

// track registers c unless the server is shutting down. It runs before c
// starts, so the close listener cannot miss the event.
func (s *Server) track(c *protocol.Connection) bool {
	id, ok := s.conns.Add(c)
	if !ok {
		return false
	}
	c.OnClose(func(protocol.CloseEvent) { s.conns.Remove(id) })
	return true
}

// Range calls fn for every connection live at the time of the call.
func (s *Server) Range(fn func(*protocol.Connection)) {
	for _, c := range s.conns.Snapshot() {
		fn(c)
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	return s.conns.Len()
}

// Shutdown stops every listener, starts the closing handshake with
// CloseGoingAway on every live connection and waits until they are CLOSED or
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	lns := make([]*tcp.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		lns = append(lns, ln)
	}
	s.mu.Unlock()

	var err error
	for _, ln := range lns {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	live := s.conns.Seal()
	s.log.Info("shutting down", zap.Int("connections", len(live)))
	for _, c := range live {
		err = multierr.Append(err, c.Close(protocol.CloseGoingAway, "server shutdown"))
	}
	for _, c := range live {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		}
	}
	return err
}

// Close is Shutdown bounded by Config.ShutdownTimeout. A non-positive
// timeout waits for every connection.
func (s *Server) Close() error {
	ctx := context.Background()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.Shutdown(ctx)
}

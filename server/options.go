// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/wsengine/control"
	"github.com/momentics/wsengine/protocol"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger overrides Config.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.cfg.Logger = l
	}
}

// WithObserver reports every connection to obs.
func WithObserver(obs protocol.Observer) Option {
	return func(s *Server) {
		s.cfg.Conn.Observer = obs
	}
}

// WithMetrics registers a control.Collector with reg and observes every
// connection through it.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.cfg.Conn.Observer = control.NewCollector(reg)
	}
}

// WithSubprotocols sets the server's subprotocol preference list.
func WithSubprotocols(protocols ...string) Option {
	return func(s *Server) {
		s.cfg.Conn.Subprotocols = protocols
	}
}

// WithController attaches a runtime controller. Its reload events re-apply
// frame_length_limit to new and live connections, and the server publishes
// its debug probes through it.
func WithController(ctrl *control.Controller) Option {
	return func(s *Server) {
		s.ctrl = ctrl
	}
}

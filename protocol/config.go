// File: protocol/config.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"crypto/rand"
	"io"
	"net/http"
	"time"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/internal/concurrency"
	"go.uber.org/zap"
)

// Config holds per-connection parameters.
type Config struct {
	Role             api.Role
	FrameLengthLimit uint64        // caps single frames and reassembled messages
	PingInterval     time.Duration // server keepalive period, <0 disables
	PongTimeout      time.Duration // time allowed for a PONG after our PING
	CloseTimeout     time.Duration // time allowed for the peer's close frame
	HandshakeTimeout time.Duration // time allowed in CONNECTING, <0 disables

	// Subprotocols is the server preference list or the client offer list.
	Subprotocols []string

	// Client request fields.
	Host   string
	Path   string
	Origin string
	Header http.Header

	Logger    *zap.Logger
	Scheduler api.Scheduler
	Rand      io.Reader // mask keys and request keys
	Observer  Observer
}

// DefaultConfig returns sensible defaults for a server connection.
func DefaultConfig() *Config {
	return &Config{
		Role:             api.RoleServer,
		FrameLengthLimit: DefaultFrameLengthLimit,
		PingInterval:     60 * time.Second,
		PongTimeout:      60 * time.Second,
		CloseTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Path:             "/",
	}
}

// Validate fills zero values with defaults and rejects settings that cannot
// work.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Role != api.RoleServer && c.Role != api.RoleClient {
		return api.NewError(api.ErrCodeInvalidArgument, "unknown connection role").
			WithContext("role", int(c.Role))
	}
	if c.FrameLengthLimit == 0 {
		c.FrameLengthLimit = def.FrameLengthLimit
	}
	if c.FrameLengthLimit > 1<<32-1 {
		return api.NewError(api.ErrCodeInvalidArgument, "frame length limit exceeds 32-bit range").
			WithContext("limit", c.FrameLengthLimit)
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.Role == api.RoleClient && c.Host == "" {
		return api.NewError(api.ErrCodeInvalidArgument, "client connection requires Host")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Scheduler == nil {
		c.Scheduler = concurrency.SystemScheduler{}
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return nil
}

// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsengine/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Addr            string           // TCP bind address, e.g. ":9000"
	Conn            *protocol.Config // template for accepted connections
	NoDelay         bool             // TCP_NODELAY on accepted sockets
	KeepAlive       time.Duration    // TCP keepalive idle, 0 = OS default
	ReadBufferSize  int              // bytes per socket read
	WriteTimeout    time.Duration    // optional per-write deadline
	ShutdownTimeout time.Duration    // bound applied by Close
	Logger          *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":9000",
		Conn:            protocol.DefaultConfig(),
		NoDelay:         true,
		KeepAlive:       30 * time.Second,
		ReadBufferSize:  32 * 1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Handler receives every accepted connection before it starts. Subscriptions
// made inside the handler observe the OPEN event and every message.
type Handler func(*protocol.Connection)

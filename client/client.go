// File: client/client.go
// Package client dials WebSocket servers and returns client-role
// connections.
// Author: momentics <momentics.com>
// License: Apache-2.0
//
// Dial resolves ws:// and wss:// URLs, opens the TCP (and TLS) stream, runs
// the opening handshake and returns once the connection is OPEN. Failed
// attempts are retried with linear backoff when Config.Retries is set.

package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transport/tcp"
)

// ErrBadURL reports an unusable WebSocket URL.
var ErrBadURL = errors.New("invalid websocket url")

// Config holds all configurable parameters for Dial.
type Config struct {
	Conn *protocol.Config // connection template; Host and Path come from the URL
	TCP  tcp.Options
	TLS  *tls.Config // used for wss; nil means a default config

	// Setup runs before the connection starts, so subscriptions it makes
	// see the OPEN event and every message.
	Setup func(*protocol.Connection)

	Retries      int           // extra attempts after the first failure
	RetryBackoff time.Duration // multiplied by the attempt number
	Logger       *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	cfg := protocol.DefaultConfig()
	cfg.Role = api.RoleClient
	return &Config{
		Conn:         cfg,
		TCP:          tcp.Options{NoDelay: true},
		RetryBackoff: 100 * time.Millisecond,
	}
}

type target struct {
	secure   bool
	hostPort string
	host     string // Host header value
	path     string // request URI
	server   string // TLS server name
}

func parseURL(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	var t target
	switch u.Scheme {
	case "ws", "http":
		t.secure = false
	case "wss", "https":
		t.secure = true
	default:
		return target{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return target{}, fmt.Errorf("%w: missing host", ErrBadURL)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if t.secure {
			port = "443"
		}
	}
	t.hostPort = net.JoinHostPort(u.Hostname(), port)
	t.host = u.Host
	t.server = u.Hostname()
	t.path = u.RequestURI()
	return t, nil
}

// Dial connects to rawURL and returns an OPEN connection. It fails when the
// handshake is rejected, the connection closes first, or ctx ends.
func Dial(ctx context.Context, rawURL string, cfg *Config) (*protocol.Connection, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	t, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * cfg.RetryBackoff
			log.Debug("retrying dial", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		conn, err := dialOnce(ctx, t, cfg, log)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	if cfg.Retries > 0 {
		return nil, fmt.Errorf("max reconnect attempts reached: %w", lastErr)
	}
	return nil, lastErr
}

func dialOnce(ctx context.Context, t target, cfg *Config, log *zap.Logger) (*protocol.Connection, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", t.hostPort)
	if err != nil {
		return nil, err
	}
	if err := tcp.Tune(netConn, cfg.TCP); err != nil {
		log.Warn("socket tuning failed", zap.Error(err))
	}
	if t.secure {
		tc := &tls.Config{}
		if cfg.TLS != nil {
			tc = cfg.TLS.Clone()
		}
		if tc.ServerName == "" {
			tc.ServerName = t.server
		}
		tlsConn := tls.Client(netConn, tc)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = netConn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		netConn = tlsConn
	}

	connCfg := protocol.DefaultConfig()
	if cfg.Conn != nil {
		c := *cfg.Conn
		connCfg = &c
	}
	connCfg.Role = api.RoleClient
	connCfg.Host = t.host
	connCfg.Path = t.path
	if connCfg.Logger == nil {
		connCfg.Logger = log
	}
	conn, err := protocol.NewConnection(tcp.NewStream(netConn, cfg.TCP), connCfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	opened := make(chan struct{})
	unsubscribe := conn.OnOpen(func() { close(opened) })
	if cfg.Setup != nil {
		cfg.Setup(conn)
	}
	if err := conn.Start(); err != nil {
		return nil, err
	}

	select {
	case <-opened:
		unsubscribe()
		return conn, nil
	case <-conn.Done():
		select {
		case <-opened:
			// Opened and closed again before we looked.
			return conn, nil
		default:
		}
		if err := conn.Err(); err != nil {
			return nil, err
		}
		return nil, protocol.ErrHandshake
	case <-ctx.Done():
		_ = conn.Close(protocol.CloseGoingAway, "")
		return nil, ctx.Err()
	}
}

//go:build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - portable socket tuning.

package tcp

import "net"

// Tune applies opts to conn when it is a TCP socket.
func Tune(conn net.Conn, opts Options) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if opts.NoDelay {
		if err := tc.SetNoDelay(true); err != nil {
			return err
		}
	}
	if opts.KeepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return err
		}
		return tc.SetKeepAlivePeriod(opts.KeepAlive)
	}
	return nil
}

//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux socket tuning through raw setsockopt.

package tcp

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Tune applies opts to conn when it is a TCP socket; other conns are left
// untouched.
func Tune(conn net.Conn, opts Options) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	if _, isTCP := conn.(*net.TCPConn); !isTCP {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := raw.Control(func(fd uintptr) {
		serr = setsockopts(int(fd), opts)
	})
	if cerr != nil {
		return cerr
	}
	return serr
}

func setsockopts(fd int, opts Options) error {
	if opts.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return err
		}
	}
	if opts.KeepAlive > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return err
		}
		secs := int(opts.KeepAlive.Seconds())
		if secs < 1 {
			secs = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
			return err
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
			return err
		}
	}
	return nil
}

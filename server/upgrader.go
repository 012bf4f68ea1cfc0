// File: server/upgrader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP upgrade path: the request head was read by net/http, so the
// connection is hijacked and started with the request already parsed.

package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/protocol"
	"github.com/momentics/wsengine/transport/tcp"
)

var (
	ErrNotHijackable   = errors.New("response writer does not support hijacking")
	ErrOriginForbidden = errors.New("request origin not allowed")
)

// Upgrader turns net/http requests into server-role connections.
type Upgrader struct {
	Config *protocol.Config // nil means protocol.DefaultConfig
	TCP    tcp.Options
	// CheckOrigin rejects a request with 403 when it returns false. Nil
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
}

// Upgrade validates r and, when it is a WebSocket upgrade, hijacks the
// underlying connection. setup, if non-nil, runs before the connection
// starts so subscriptions it makes see every event. Invalid requests are
// answered with HTTP 400 and an error is returned.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, setup func(*protocol.Connection)) (*protocol.Connection, error) {
	log := u.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := protocol.ValidateUpgradeRequest(r); err != nil {
		log.Debug("upgrade rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(r) {
		http.Error(w, ErrOriginForbidden.Error(), http.StatusForbidden)
		return nil, ErrOriginForbidden
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, ErrNotHijackable.Error(), http.StatusInternalServerError)
		return nil, ErrNotHijackable
	}

	cfg := protocol.DefaultConfig()
	if u.Config != nil {
		c := *u.Config
		cfg = &c
	}
	cfg.Role = api.RoleServer
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	netConn, brw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	// net/http may have armed deadlines for the request read.
	_ = netConn.SetDeadline(time.Time{})

	var buffered []byte
	if n := brw.Reader.Buffered(); n > 0 {
		peek, _ := brw.Reader.Peek(n)
		buffered = append([]byte(nil), peek...)
	}

	if err := tcp.Tune(netConn, u.TCP); err != nil {
		log.Warn("socket tuning failed", zap.Error(err))
	}
	conn, err := protocol.NewConnection(tcp.NewStream(netConn, u.TCP), cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	if setup != nil {
		setup(conn)
	}
	if err := conn.StartUpgraded(r, buffered); err != nil {
		return nil, err
	}
	return conn, nil
}

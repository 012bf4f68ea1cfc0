// File: client/client_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/client"
	"github.com/momentics/wsengine/protocol"
)

// gorillaEcho runs a gorilla server that echoes every message.
func gorillaEcho(protocols ...string) http.Handler {
	up := websocket.Upgrader{Subprotocols: protocols}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, p, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, p); err != nil {
				return
			}
		}
	})
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

type session struct {
	msgs   chan protocol.Message
	closed chan protocol.CloseEvent
}

func newSession(cfg *client.Config) *session {
	s := &session{msgs: make(chan protocol.Message, 8), closed: make(chan protocol.CloseEvent, 1)}
	cfg.Setup = func(c *protocol.Connection) {
		c.OnMessage(func(m protocol.Message) { s.msgs <- m })
		c.OnClose(func(ev protocol.CloseEvent) { s.closed <- ev })
	}
	return s
}

func TestDialGorillaServer(t *testing.T) {
	hs := httptest.NewServer(gorillaEcho("v2", "v1"))
	defer hs.Close()

	cfg := client.DefaultConfig()
	cfg.Conn.Subprotocols = []string{"v1"}
	sess := newSession(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, wsURL(hs)+"/echo?room=1", cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if conn.ReadyState() != api.StateOpen || conn.Role() != api.RoleClient {
		t.Fatalf("state %v role %v", conn.ReadyState(), conn.Role())
	}
	if conn.Protocol() != "v1" {
		t.Errorf("Protocol() = %q", conn.Protocol())
	}

	if err := conn.SendText("hello gorilla"); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendFragmented(protocol.MessageBinary, [][]byte{{1}, {2, 3}}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"hello gorilla", "\x01\x02\x03"} {
		select {
		case m := <-sess.msgs:
			if m.Text() != want {
				t.Errorf("echo = %q, want %q", m.Payload, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no echo")
		}
	}

	if err := conn.Close(protocol.CloseNormalClosure, "bye"); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sess.closed:
		if !ev.WasClean || ev.Code != protocol.CloseNormalClosure {
			t.Errorf("close = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no close")
	}
}

func TestDialRejected(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Dial(ctx, wsURL(hs), nil); !errors.Is(err, protocol.ErrHandshake) {
		t.Errorf("err = %v, want ErrHandshake", err)
	}
}

func TestDialTLS(t *testing.T) {
	hs := httptest.NewTLSServer(gorillaEcho())
	defer hs.Close()

	cfg := client.DefaultConfig()
	cfg.TLS = hs.Client().Transport.(*http.Transport).TLSClientConfig
	sess := newSession(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx, "wss"+strings.TrimPrefix(hs.URL, "https"), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(protocol.CloseNormalClosure, "")
	if err := conn.SendText("secure"); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-sess.msgs:
		if m.Text() != "secure" {
			t.Errorf("echo = %q", m.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}
}

func TestDialContextDeadline(t *testing.T) {
	// Accepts TCP but never answers the upgrade.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cfg := client.DefaultConfig()
	cfg.Conn.HandshakeTimeout = -1
	if _, err := client.Dial(ctx, "ws://"+ln.Addr().String(), cfg); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDialRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := client.DefaultConfig()
	cfg.Retries = 2
	cfg.RetryBackoff = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Dial(ctx, "ws://"+addr, cfg)
	if err == nil || !strings.Contains(err.Error(), "max reconnect attempts") {
		t.Errorf("err = %v", err)
	}
}

func TestDialBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "ws://", "::"} {
		if _, err := client.Dial(context.Background(), raw, nil); !errors.Is(err, client.ErrBadURL) {
			t.Errorf("Dial(%q) err = %v", raw, err)
		}
	}
}

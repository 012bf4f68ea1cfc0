package gnet

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/wsengine/protocol"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func echo(c *protocol.Connection) {
	c.OnMessage(func(m protocol.Message) {
		if m.Type == protocol.MessageText {
			_ = c.SendText(m.Text())
			return
		}
		_ = c.SendBuffer(m.Payload)
	})
}

func TestNewEngineValidates(t *testing.T) {
	if _, err := NewEngine(Config{}, echo); err == nil {
		t.Error("missing address accepted")
	}
	if _, err := NewEngine(Config{Addr: "127.0.0.1:0"}, nil); err == nil {
		t.Error("nil handler accepted")
	}
}

func TestEngineEchoWithGorillaClient(t *testing.T) {
	addr := freeAddr(t)
	eng, err := NewEngine(Config{Addr: addr}, echo)
	if err != nil {
		t.Fatal(err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run() }()
	select {
	case <-eng.Booted():
	case err := <-runErr:
		t.Fatalf("engine exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not boot")
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if mt, p, err := ws.ReadMessage(); err != nil || mt != websocket.TextMessage || string(p) != "hello" {
		t.Fatalf("read %d %q %v", mt, p, err)
	}

	big := bytes.Repeat([]byte{0xA5}, 200<<10)
	if err := ws.WriteMessage(websocket.BinaryMessage, big); err != nil {
		t.Fatal(err)
	}
	if mt, p, err := ws.ReadMessage(); err != nil || mt != websocket.BinaryMessage || !bytes.Equal(p, big) {
		t.Fatalf("binary echo: type %d len %d err %v", mt, len(p), err)
	}
	if eng.Count() != 1 {
		t.Errorf("Count() = %d", eng.Count())
	}

	stopErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopErr <- eng.Stop(ctx)
	}()

	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseGoingAway {
		t.Errorf("read after stop err = %v, want close 1001", err)
	}
	if err := <-stopErr; err != nil {
		t.Errorf("Stop: %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Run did not return after Stop")
	}
}

package control

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/fake"
	"github.com/momentics/wsengine/protocol"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectionOpened(api.RoleServer)
	c.ConnectionOpened(api.RoleServer)
	c.FrameReceived(protocol.OpcodeText, 5)
	c.FrameReceived(protocol.OpcodePing, 0)
	c.FrameSent(protocol.OpcodeBinary, 7)
	c.ConnectionClosed(api.RoleServer, protocol.CloseEvent{Code: protocol.CloseNormalClosure, WasClean: true})

	if got := testutil.ToFloat64(c.opened.WithLabelValues("server")); got != 2 {
		t.Errorf("opened = %v", got)
	}
	if got := testutil.ToFloat64(c.active.WithLabelValues("server")); got != 1 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(c.closed.WithLabelValues("server", "1000")); got != 1 {
		t.Errorf("closed{1000} = %v", got)
	}
	if got := testutil.ToFloat64(c.payloadIn); got != 5 {
		t.Errorf("payload in = %v", got)
	}
	if got := testutil.ToFloat64(c.payloadOut); got != 7 {
		t.Errorf("payload out = %v", got)
	}
	n, err := testutil.GatherAndCount(reg, "wsengine_frames_received_total")
	if err != nil || n != 2 {
		t.Errorf("frames_received series = %d, %v", n, err)
	}
}

func TestCollectorObservesConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := NewCollector(reg)
	a, b := fake.Pipe()

	newConn := func(tr *fake.Transport, role api.Role) *protocol.Connection {
		cfg := protocol.DefaultConfig()
		cfg.Role = role
		cfg.Host = "pipe"
		cfg.Observer = col
		c, err := protocol.NewConnection(tr, cfg)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	server := newConn(a, api.RoleServer)
	client := newConn(b, api.RoleClient)
	opened := make(chan struct{})
	client.OnOpen(func() { close(opened) })
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not open")
	}
	if err := client.SendText("metrics"); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(protocol.CloseNormalClosure, ""); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*protocol.Connection{server, client} {
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("connection did not close")
		}
	}

	for _, role := range []string{"server", "client"} {
		if got := testutil.ToFloat64(col.opened.WithLabelValues(role)); got != 1 {
			t.Errorf("%s opened = %v", role, got)
		}
		if got := testutil.ToFloat64(col.active.WithLabelValues(role)); got != 0 {
			t.Errorf("%s active = %v", role, got)
		}
		if got := testutil.ToFloat64(col.closed.WithLabelValues(role, "1000")); got != 1 {
			t.Errorf("%s closed{1000} = %v", role, got)
		}
	}
	if got := testutil.ToFloat64(col.framesIn.WithLabelValues("TEXT")); got != 1 {
		t.Errorf("TEXT frames received = %v", got)
	}
	// The close initiator records its own write after the transport accepted
	// it, which may trail its teardown.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(col.framesOut.WithLabelValues("CLOSE")) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("CLOSE frames sent = %v", testutil.ToFloat64(col.framesOut.WithLabelValues("CLOSE")))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).ConnectionOpened(api.RoleClient)

	srv := httptest.NewServer(MetricsHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `wsengine_connections_opened_total{role="client"} 1`) {
		t.Errorf("exposition missing counter:\n%s", body)
	}
}

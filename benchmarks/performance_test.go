// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for wsengine components.

package benchmarks

import (
	"testing"
	"time"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/fake"
	"github.com/momentics/wsengine/internal/concurrency"
	"github.com/momentics/wsengine/protocol"
)

var sizes = []struct {
	name string
	n    int
}{
	{"125B", 125},
	{"4KiB", 4 << 10},
	{"64KiB", 64 << 10},
}

// BenchmarkFrameEncode measures header construction plus client masking.
func BenchmarkFrameEncode(b *testing.B) {
	for _, sz := range sizes {
		b.Run(sz.name, func(b *testing.B) {
			enc := protocol.NewFrameEncoder(protocol.DefaultFrameLengthLimit, fake.NewRand(1))
			payload := make([]byte, sz.n)
			b.SetBytes(int64(sz.n))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := enc.Encode(protocol.FrameComplete, protocol.OpcodeBinary, payload, true); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFrameDecode feeds one masked frame per iteration in 1 KiB chunks.
func BenchmarkFrameDecode(b *testing.B) {
	for _, sz := range sizes {
		b.Run(sz.name, func(b *testing.B) {
			enc := protocol.NewFrameEncoder(protocol.DefaultFrameLengthLimit, fake.NewRand(1))
			h, body, err := enc.Encode(protocol.FrameComplete, protocol.OpcodeBinary, make([]byte, sz.n), true)
			if err != nil {
				b.Fatal(err)
			}
			wire := append(append([]byte{}, h...), body...)
			dec := protocol.NewFrameDecoder(protocol.DefaultFrameLengthLimit)
			b.SetBytes(int64(len(wire)))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for off := 0; off < len(wire); off += 1024 {
					end := min(off+1024, len(wire))
					dec.Push(wire[off:end])
				}
				for {
					advanced, err := dec.Decode()
					if err != nil {
						b.Fatal(err)
					}
					if _, ok := dec.Frame(); ok {
						dec.Reset()
						break
					}
					if !advanced {
						b.Fatal("decoder stalled")
					}
				}
			}
		})
	}
}

// BenchmarkMaskBytes measures the XOR loop alone.
func BenchmarkMaskBytes(b *testing.B) {
	buf := make([]byte, 64<<10)
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	b.SetBytes(int64(len(buf)))
	for i := 0; i < b.N; i++ {
		protocol.MaskBytes(buf, key, i&3)
	}
}

// BenchmarkOrderedQueue measures enqueue-to-completion latency of the chain.
func BenchmarkOrderedQueue(b *testing.B) {
	q := concurrency.NewOrderedQueue(nil)
	defer q.Dispose()
	noop := func() error { return nil }
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := <-q.Enqueue(noop); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkConnectionEcho measures a full client-server round trip over an
// in-memory pipe.
func BenchmarkConnectionEcho(b *testing.B) {
	a, c := fake.Pipe()
	newConn := func(tr *fake.Transport, role api.Role) *protocol.Connection {
		cfg := protocol.DefaultConfig()
		cfg.Role = role
		cfg.Host = "bench"
		cfg.PingInterval = -1
		conn, err := protocol.NewConnection(tr, cfg)
		if err != nil {
			b.Fatal(err)
		}
		return conn
	}
	server := newConn(a, api.RoleServer)
	client := newConn(c, api.RoleClient)
	server.OnMessage(func(m protocol.Message) { _ = server.SendBuffer(m.Payload) })
	replies := make(chan struct{}, 1)
	client.OnMessage(func(protocol.Message) { replies <- struct{}{} })
	opened := make(chan struct{})
	client.OnOpen(func() { close(opened) })

	if err := server.Start(); err != nil {
		b.Fatal(err)
	}
	if err := client.Start(); err != nil {
		b.Fatal(err)
	}
	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		b.Fatal("handshake timed out")
	}
	defer client.Close(protocol.CloseNormalClosure, "")

	payload := make([]byte, 1024)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := client.SendBuffer(payload); err != nil {
			b.Fatal(err)
		}
		<-replies
	}
}

// File: api/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Defines the duplex byte-stream abstraction a WebSocket connection runs on.
// The transport knows nothing about frames: it delivers chunks in arrival
// order and writes byte vectors in call order.

package api

// StreamHandler receives transport events. Calls are never concurrent and
// arrive in stream order.
type StreamHandler interface {
	// OnData delivers the next chunk of received bytes. Ownership of chunk
	// moves to the handler; the transport must not reuse its memory.
	OnData(chunk []byte)

	// OnEnd reports that no more data will arrive. err is io.EOF for an
	// orderly end, the transport failure otherwise. Called at most once.
	OnEnd(err error)
}

// Transport abstracts a full-duplex byte stream exclusively owned by one
// connection for its lifetime.
type Transport interface {
	// Start begins delivering events to h. It must be called exactly once.
	Start(h StreamHandler) error

	// Send writes bufs as one contiguous byte sequence and invokes done
	// with the outcome once the write has completed or failed. The caller
	// serializes Send calls; the transport guarantees that bytes of one
	// call are never interleaved with bytes of another.
	Send(bufs [][]byte, done func(error))

	// Close releases the stream. Idempotent.
	Close() error

	// RemoteAddr returns a printable peer address, or "" when unknown.
	RemoteAddr() string
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the transport, scheduler
// and randomness contracts.

package fake

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/momentics/wsengine/api"
)

// Ensure compile-time interface compliance.
var _ api.Transport = (*Transport)(nil)

type delivery struct {
	data []byte
	end  bool
	err  error
}

// Transport is an in-memory api.Transport. Inbound bytes are injected with
// Feed and End, or arrive from a peer created by Pipe. Every Send is recorded
// as one contiguous write.
type Transport struct {
	mu         sync.Mutex
	cond       *sync.Cond
	handler    api.StreamHandler
	started    bool
	closed     bool
	ended      bool
	inbox      []delivery
	writes     [][]byte
	sendErr    error
	closeErr   error
	closeCalls int
	peer       *Transport
	remote     string
}

// NewTransport creates an unconnected fake transport.
func NewTransport() *Transport {
	t := &Transport{remote: "fake"}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Pipe returns two transports wired back to back: bytes sent on one are
// delivered to the other, and closing one ends the other's stream.
func Pipe() (*Transport, *Transport) {
	a, b := NewTransport(), NewTransport()
	a.peer, b.peer = b, a
	a.remote, b.remote = "pipe-b", "pipe-a"
	return a, b
}

// Start implements api.Transport.
func (t *Transport) Start(h api.StreamHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return api.ErrAlreadyStarted
	}
	t.started = true
	t.handler = h
	go t.deliver()
	return nil
}

// deliver hands queued events to the handler one at a time, in order.
func (t *Transport) deliver() {
	for {
		t.mu.Lock()
		for len(t.inbox) == 0 {
			t.cond.Wait()
		}
		d := t.inbox[0]
		t.inbox = t.inbox[1:]
		h := t.handler
		t.mu.Unlock()

		if d.end {
			h.OnEnd(d.err)
			return
		}
		h.OnData(d.data)
	}
}

// Feed queues chunk for delivery as received data. The chunk is copied.
func (t *Transport) Feed(chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.inbox = append(t.inbox, delivery{data: bytes.Clone(chunk)})
	t.cond.Broadcast()
}

// End queues the end of the inbound stream. Later calls are ignored.
func (t *Transport) End(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	t.inbox = append(t.inbox, delivery{end: true, err: err})
	t.cond.Broadcast()
}

// Send implements api.Transport. done runs before Send returns.
func (t *Transport) Send(bufs [][]byte, done func(error)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		done(api.ErrTransportClosed)
		return
	}
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		done(err)
		return
	}
	w := bytes.Join(bufs, nil)
	t.writes = append(t.writes, w)
	peer := t.peer
	t.cond.Broadcast()
	t.mu.Unlock()

	if peer != nil {
		peer.Feed(w)
	}
	done(nil)
}

// Close implements api.Transport. It ends the local stream with
// api.ErrTransportClosed and the peer's with io.EOF.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peer := t.peer
	err := t.closeErr
	t.cond.Broadcast()
	t.mu.Unlock()

	t.End(api.ErrTransportClosed)
	if peer != nil {
		peer.End(io.EOF)
	}
	return err
}

// RemoteAddr implements api.Transport.
func (t *Transport) RemoteAddr() string {
	return t.remote
}

// SetSendError makes every later Send fail with err; nil restores success.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// SetCloseError makes Close return err.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeErr = err
}

// Writes returns a copy of every recorded write.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Written returns all recorded writes concatenated.
func (t *Transport) Written() []byte {
	return bytes.Join(t.Writes(), nil)
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCalls returns how many times Close ran.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// ErrWaitTimeout is returned by the Wait helpers.
var ErrWaitTimeout = errors.New("fake: wait timed out")

// WaitWrites blocks until at least n writes are recorded or timeout passes.
func (t *Transport) WaitWrites(n int, timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		w := t.Writes()
		if len(w) >= n {
			return w, nil
		}
		if time.Now().After(deadline) {
			return w, ErrWaitTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// WaitClosed blocks until Close has been called or timeout passes.
func (t *Transport) WaitClosed(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !t.Closed() {
		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

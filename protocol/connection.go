// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is one WebSocket session over a borrowed api.Transport. It owns a
// FrameDecoder, a FrameEncoder and two OrderedQueues: writes are flushed in
// enqueue order, decoded frames are handled in arrival order.

package protocol

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/internal/concurrency"
	"go.uber.org/zap"
)

// Connection is a full-duplex WebSocket session.
type Connection struct {
	cfg  Config
	role api.Role
	tr   api.Transport
	log  *zap.Logger
	obs  Observer
	enc  *FrameEncoder

	writeQ *concurrency.OrderedQueue
	recvQ  *concurrency.OrderedQueue

	// decodeMu serializes OnData deliveries and guards the fields below it.
	decodeMu     sync.Mutex
	dec          *FrameDecoder
	head         []byte // opening handshake bytes seen while CONNECTING
	rejecting    bool
	decodeFailed bool

	// Reassembly state, touched only by recvQ tasks.
	msgOpen  bool
	msgType  MessageType
	msgParts [][]byte
	msgLen   uint64
	limit    atomic.Uint64

	mu             sync.Mutex
	state          api.ReadyState
	started        bool
	wasOpen        bool
	subprotocol    string
	requestKey     string
	closeSent      bool
	closeRecv      bool
	peerCode       CloseCode
	peerReason     string
	failure        *CloseEvent
	pingTimer      api.Timer
	pongTimer      api.Timer
	pingGen        uint64
	pongGen        uint64
	closeTimer     api.Timer
	handshakeTimer api.Timer
	onOpen         listeners[struct{}]
	onMessage      listeners[Message]
	onClose        listeners[CloseEvent]
	closeEvent     CloseEvent
	err            error
	done           chan struct{}

	bytesReceived  atomic.Int64
	bytesSent      atomic.Int64
	framesReceived atomic.Int64
	framesSent     atomic.Int64
	messages       atomic.Int64
}

// NewConnection binds a connection to tr. Nothing is read or written until
// Start or StartUpgraded.
func NewConnection(tr api.Transport, cfg *Config) (*Connection, error) {
	if tr == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil transport")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Connection{cfg: *cfg}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.role = c.cfg.Role
	c.tr = tr
	c.obs = c.cfg.Observer
	c.log = c.cfg.Logger.With(
		zap.Stringer("role", c.role),
		zap.String("remote", tr.RemoteAddr()),
	)
	c.enc = NewFrameEncoder(c.cfg.FrameLengthLimit, c.cfg.Rand)
	c.dec = NewFrameDecoder(c.cfg.FrameLengthLimit)
	c.limit.Store(c.cfg.FrameLengthLimit)
	c.state = api.StateConnecting
	c.done = make(chan struct{})
	c.writeQ = concurrency.NewOrderedQueue(func(err error) {
		c.log.Debug("write task failed", zap.Error(err))
	})
	c.recvQ = concurrency.NewOrderedQueue(func(err error) {
		c.log.Debug("receive task failed", zap.Error(err))
	})
	return c, nil
}

// Start attaches to the transport and begins the opening handshake for the
// configured role. A client sends its upgrade request immediately; a server
// waits for one.
func (c *Connection) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return api.ErrAlreadyStarted
	}
	c.started = true
	if c.cfg.HandshakeTimeout > 0 {
		c.handshakeTimer = c.cfg.Scheduler.Schedule(c.cfg.HandshakeTimeout, c.onHandshakeTimeout)
	}

	var request []byte
	if c.role == api.RoleClient {
		key, err := NewRequestKey(c.cfg.Rand)
		if err != nil {
			c.mu.Unlock()
			c.teardown(CloseEvent{Code: CloseAbnormalClosure, Err: err})
			return err
		}
		c.requestKey = key
		request = BuildClientRequest(ClientRequest{
			Host:         c.cfg.Host,
			Path:         c.cfg.Path,
			Origin:       c.cfg.Origin,
			Key:          key,
			Subprotocols: c.cfg.Subprotocols,
			Header:       c.cfg.Header,
		})
	}
	c.mu.Unlock()

	if err := c.tr.Start(connStream{c}); err != nil {
		c.teardown(CloseEvent{Code: CloseAbnormalClosure, Err: err})
		return err
	}
	if request != nil {
		c.writeQ.Enqueue(func() error { return c.writeRaw(request) })
	}
	c.log.Debug("connection started")
	return nil
}

// StartUpgraded starts a server connection whose upgrade request was already
// read by an HTTP server. buffered holds bytes read past the request head.
// An invalid request is answered with HTTP 400 and the connection closes.
func (c *Connection) StartUpgraded(req *http.Request, buffered []byte) error {
	if c.role != api.RoleServer {
		return api.NewError(api.ErrCodeInvalidArgument, "StartUpgraded requires the server role")
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return api.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	// Hold decodeMu so transport data cannot overtake the buffered bytes.
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()

	if err := c.tr.Start(connStream{c}); err != nil {
		c.teardown(CloseEvent{Code: CloseAbnormalClosure, Err: err})
		return err
	}
	if err := c.acceptRequest(req); err != nil {
		return err
	}
	if len(buffered) > 0 {
		c.dec.Push(buffered)
		c.decodeLocked()
	}
	return nil
}

// OnOpen subscribes fn to the OPEN transition.
func (c *Connection) OnOpen(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscriber(c.onOpen.add(func(struct{}) { fn() }))
}

// OnMessage subscribes fn to reassembled messages. Calls are serialized in
// arrival order and fn owns the message payload.
func (c *Connection) OnMessage(fn func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscriber(c.onMessage.add(fn))
}

// OnClose subscribes fn to the single close notification.
func (c *Connection) OnClose(fn func(CloseEvent)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscriber(c.onClose.add(fn))
}

func (c *Connection) unsubscriber(remove func()) func() {
	return func() {
		c.mu.Lock()
		remove()
		c.mu.Unlock()
	}
}

// ReadyState returns the current lifecycle state.
func (c *Connection) ReadyState() api.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the handshake role.
func (c *Connection) Role() api.Role {
	return c.role
}

// Protocol returns the negotiated subprotocol, empty when none was agreed.
func (c *Connection) Protocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subprotocol
}

// RemoteAddr returns the transport peer address.
func (c *Connection) RemoteAddr() string {
	return c.tr.RemoteAddr()
}

// SetFrameLengthLimit changes the cap on frame and message payloads in both
// directions. Zero restores the default.
func (c *Connection) SetFrameLengthLimit(n uint64) {
	if n == 0 {
		n = DefaultFrameLengthLimit
	}
	c.limit.Store(n)
	c.enc.SetLimit(n)
	c.decodeMu.Lock()
	c.dec.SetLimit(n)
	c.decodeMu.Unlock()
}

// FrameLengthLimit returns the current payload cap.
func (c *Connection) FrameLengthLimit() uint64 {
	return c.limit.Load()
}

// Done is closed after teardown completes.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the fault that ended the connection, nil after a clean close or
// while the connection is alive.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CloseStatus returns the close notification once the connection is CLOSED.
func (c *Connection) CloseStatus() (CloseEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeEvent, c.state == api.StateClosed
}

// Stats returns a snapshot of connection statistics for metrics reporting.
func (c *Connection) Stats() map[string]int64 {
	return map[string]int64{
		"bytes_received":    c.bytesReceived.Load(),
		"bytes_sent":        c.bytesSent.Load(),
		"frames_received":   c.framesReceived.Load(),
		"frames_sent":       c.framesSent.Load(),
		"messages_received": c.messages.Load(),
		"pending_writes":    int64(c.writeQ.Len()),
	}
}

// SendText sends s as one TEXT frame and waits for the write to complete.
func (c *Connection) SendText(s string) error {
	return c.send(FrameComplete, OpcodeText, []byte(s))
}

// SendBuffer sends b as one BINARY frame and waits for the write to complete.
// The connection owns b from the call onward.
func (c *Connection) SendBuffer(b []byte) error {
	return c.send(FrameComplete, OpcodeBinary, b)
}

// SendPing sends a PING carrying data, at most 125 bytes.
func (c *Connection) SendPing(data []byte) error {
	if len(data) > MaxControlPayloadLen {
		return ErrControlTooLarge
	}
	return c.send(FrameComplete, OpcodePing, data)
}

// SendFragmented sends parts as one fragmented message. No other frame is
// written between its fragments.
func (c *Connection) SendFragmented(t MessageType, parts [][]byte) error {
	if len(parts) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "no fragments")
	}
	if t != MessageText && t != MessageBinary {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid message type").
			WithContext("type", int(t))
	}
	limit := c.enc.Limit()
	for i, p := range parts {
		if uint64(len(p)) > limit {
			return fmt.Errorf("%w: fragment %d", ErrFrameTooLarge, i)
		}
	}

	task := func() error {
		for i, p := range parts {
			kind := FrameMore
			switch {
			case len(parts) == 1:
				kind = FrameComplete
			case i == 0:
				kind = FrameFirst
			case i == len(parts)-1:
				kind = FrameLast
			}
			if err := c.writeFrame(kind, Opcode(t), p); err != nil {
				return err
			}
		}
		return nil
	}
	return c.enqueueOpen(task)
}

func (c *Connection) send(kind FrameKind, op Opcode, payload []byte) error {
	if limit := c.enc.Limit(); uint64(len(payload)) > limit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), limit)
	}
	return c.enqueueOpen(func() error { return c.writeFrame(kind, op, payload) })
}

// enqueueOpen queues task if the connection is OPEN and waits for its result.
// The state check and the enqueue happen under one lock, so a frame accepted
// here always precedes a close frame queued by a later Close.
func (c *Connection) enqueueOpen(task concurrency.Task) error {
	c.mu.Lock()
	if c.state != api.StateOpen {
		c.mu.Unlock()
		return api.ErrNotOpen
	}
	result := c.writeQ.Enqueue(task)
	c.mu.Unlock()
	return <-result
}

// writeFrame encodes and writes one frame; it runs on the write queue.
func (c *Connection) writeFrame(kind FrameKind, op Opcode, payload []byte) error {
	n := len(payload)
	header, body, err := c.enc.Encode(kind, op, payload, c.role.Masks())
	if err != nil {
		return err
	}
	if err := c.writeRaw(header, body); err != nil {
		return err
	}
	c.framesSent.Add(1)
	c.bytesSent.Add(int64(n))
	c.obs.FrameSent(op, n)
	return nil
}

// writeRaw hands bufs to the transport as one vectored write and waits for
// completion. A transport failure tears the connection down.
func (c *Connection) writeRaw(bufs ...[]byte) error {
	result := make(chan error, 1)
	c.tr.Send(bufs, func(err error) { result <- err })
	select {
	case err := <-result:
		if err != nil {
			err = fmt.Errorf("write: %w", err)
			c.abort(err)
		}
		return err
	case <-c.done:
		return api.ErrTransportClosed
	}
}

// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) for wsengine.
//
// The package is transport-agnostic: it consumes an api.Transport that
// delivers arbitrarily sized chunks and performs ordered writes, and turns it
// into a message-oriented Connection.
//
// Includes:
//   - ChunkAssembler: exact-length extraction from a chunk list with minimal copying
//   - FrameDecoder: incremental, stage-by-stage frame parser
//   - FrameEncoder: header construction and per-role masking
//   - Connection: opening handshake, reassembly, keepalive and close handshake
//
// Payload ownership: byte slices handed to a Frame, a Message or a Send call
// belong to the receiver from then on. Masking is applied in place, so a
// caller must not read or reuse a buffer after sending it.
package protocol

// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ReadyState enumerates the lifecycle of a WebSocket connection.
// Transitions only move forward; StateClosed is terminal.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role fixes which side of the handshake a connection plays and, with it,
// the outgoing masking policy.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Masks reports whether frames sent in this role carry a mask.
func (r Role) Masks() bool {
	return r == RoleClient
}

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

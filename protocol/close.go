// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Close status codes and close frame payload handling.

package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// CloseCode is a close frame status code.
type CloseCode uint16

// Close codes defined in RFC 6455, section 7.4.1.
const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusReceived   CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayloadData CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMandatoryExtension CloseCode = 1010
	CloseInternalServerErr  CloseCode = 1011
	CloseServiceRestart     CloseCode = 1012
	CloseTryAgainLater      CloseCode = 1013
	CloseTLSHandshake       CloseCode = 1015
)

// IsValid reports whether c may appear on the wire. 1005, 1006 and 1015 are
// reserved for local reporting only.
func (c CloseCode) IsValid() bool {
	switch c {
	case CloseNormalClosure, CloseGoingAway, CloseProtocolError,
		CloseUnsupportedData, CloseInvalidPayloadData, ClosePolicyViolation,
		CloseMessageTooBig, CloseMandatoryExtension, CloseInternalServerErr,
		CloseServiceRestart, CloseTryAgainLater:
		return true
	}
	return c >= 3000 && c <= 4999
}

// CloseError carries a close status through error paths.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: close %d", e.Code)
	}
	return fmt.Sprintf("websocket: close %d: %s", e.Code, e.Reason)
}

// CloseEvent is delivered to OnClose subscribers exactly once per connection.
type CloseEvent struct {
	Code   CloseCode
	Reason string
	// WasClean is true when close frames were exchanged in both directions.
	WasClean bool
	// Err is the fault that forced teardown, nil for a clean close.
	Err error
}

// ClosePayload packs code and reason into a close frame body.
func ClosePayload(code CloseCode, reason string) []byte {
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, uint16(code))
	copy(b[2:], reason)
	return b
}

// ParseClosePayload decodes a received close frame body. An empty body means
// no status was sent and maps to CloseNormalClosure.
func ParseClosePayload(p []byte) (CloseCode, string, error) {
	switch {
	case len(p) == 0:
		return CloseNormalClosure, "", nil
	case len(p) == 1:
		return 0, "", fmt.Errorf("%w: close payload of 1 byte", ErrProtocolViolation)
	}
	code := CloseCode(binary.BigEndian.Uint16(p))
	if !code.IsValid() {
		return 0, "", fmt.Errorf("%w: invalid close code %d", ErrProtocolViolation, code)
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: close reason is not UTF-8", ErrProtocolViolation)
	}
	return code, string(reason), nil
}

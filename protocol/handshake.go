// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Opening handshake helpers: request validation, Sec-WebSocket-Accept
// computation, subprotocol negotiation and raw HTTP/1.1 head rendering for
// both roles.

package protocol

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize  = 8192
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	RequiredWebSocketVersion = "13"

	requestKeyLen = 16
)

var (
	ErrInvalidUpgradeHeaders = fmt.Errorf("%w: invalid upgrade headers", ErrHandshake)
	ErrMissingWebSocketKey   = fmt.Errorf("%w: missing or malformed Sec-WebSocket-Key", ErrHandshake)
	ErrBadWebSocketVersion   = fmt.Errorf("%w: unsupported version, only 13 is supported", ErrHandshake)
	ErrBadAcceptKey          = fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", ErrHandshake)
	ErrUnofferedSubprotocol  = fmt.Errorf("%w: server selected a subprotocol that was not offered", ErrHandshake)
	ErrHandshakeTooLarge     = fmt.Errorf("%w: handshake head exceeds %d bytes", ErrHandshake, MaxHandshakeHeadersSize)
)

// ComputeAcceptKey returns base64(SHA1(key + GUID)).
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewRequestKey returns a fresh base64-encoded 16-byte nonce.
func NewRequestKey(random io.Reader) (string, error) {
	var nonce [requestKeyLen]byte
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return "", fmt.Errorf("request key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// ValidateUpgradeRequest checks that req is a version 13 WebSocket upgrade and
// returns its Sec-WebSocket-Key.
func ValidateUpgradeRequest(req *http.Request) (string, error) {
	if req.Method != http.MethodGet {
		return "", fmt.Errorf("%w: method %s", ErrInvalidUpgradeHeaders, req.Method)
	}
	if !headerContainsToken(req.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return "", ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return "", ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(req.Header.Get(HeaderSecWebSocketKey))
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != requestKeyLen {
		return "", ErrMissingWebSocketKey
	}
	return key, nil
}

// ParseSubprotocols returns the comma-separated Sec-WebSocket-Protocol tokens
// in the order the peer listed them.
func ParseSubprotocols(h http.Header) []string {
	var out []string
	for _, v := range h.Values(HeaderSecWebSocketProto) {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// SelectSubprotocol picks the first entry of supported that the peer offered.
// The server's preference order wins.
func SelectSubprotocol(offered, supported []string) string {
	for _, s := range supported {
		for _, o := range offered {
			if o == s {
				return s
			}
		}
	}
	return ""
}

// UpgradeResponse renders the 101 response accepting key.
func UpgradeResponse(key, subprotocol string) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString(HeaderSecWebSocketAccept + ": " + ComputeAcceptKey(key) + "\r\n")
	if subprotocol != "" {
		b.WriteString(HeaderSecWebSocketProto + ": " + subprotocol + "\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// RejectionResponse renders a raw 400 response for a failed upgrade.
func RejectionResponse(reason string) []byte {
	body := reason + "\n"
	return []byte(fmt.Sprintf(
		"HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(body), body))
}

// ClientRequest describes the upgrade request sent by a client connection.
type ClientRequest struct {
	Host         string
	Path         string
	Origin       string
	Key          string
	Subprotocols []string
	Header       http.Header
}

// BuildClientRequest renders the GET upgrade request head.
func BuildClientRequest(r ClientRequest) []byte {
	path := r.Path
	if path == "" {
		path = "/"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", r.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString(HeaderSecWebSocketKey + ": " + r.Key + "\r\n")
	b.WriteString(HeaderSecWebSocketVer + ": " + RequiredWebSocketVersion + "\r\n")
	if len(r.Subprotocols) > 0 {
		b.WriteString(HeaderSecWebSocketProto + ": " + strings.Join(r.Subprotocols, ", ") + "\r\n")
	}
	if r.Origin != "" {
		b.WriteString("Origin: " + r.Origin + "\r\n")
	}
	if len(r.Header) > 0 {
		_ = r.Header.Write(&b)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// VerifyUpgradeResponse checks the server's answer to a request carrying key
// and returns the negotiated subprotocol.
func VerifyUpgradeResponse(resp *http.Response, key string, offered []string) (string, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return "", fmt.Errorf("%w: unexpected status %s", ErrHandshake, resp.Status)
	}
	if !headerContainsToken(resp.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(resp.Header, HeaderUpgrade, "websocket") {
		return "", ErrInvalidUpgradeHeaders
	}
	if resp.Header.Get(HeaderSecWebSocketAccept) != ComputeAcceptKey(key) {
		return "", ErrBadAcceptKey
	}
	proto := strings.TrimSpace(resp.Header.Get(HeaderSecWebSocketProto))
	if proto == "" {
		return "", nil
	}
	for _, o := range offered {
		if o == proto {
			return proto, nil
		}
	}
	return "", ErrUnofferedSubprotocol
}

// headerContainsToken reports whether the comma-separated header lists token.
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Deterministic byte source for mask keys and handshake nonces.

package fake

import "sync"

// Rand yields a repeatable byte sequence starting after seed.
type Rand struct {
	mu   sync.Mutex
	next byte
}

// NewRand returns a Rand whose first byte is seed+1.
func NewRand(seed byte) *Rand {
	return &Rand{next: seed}
}

// Read implements io.Reader. It never fails.
func (r *Rand) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		r.next++
		p[i] = r.next
	}
	return len(p), nil
}

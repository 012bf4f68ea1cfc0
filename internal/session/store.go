// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry for high connection counts.

package session

import (
	"sync"
	"sync/atomic"
)

// Registry holds live entries under numeric ids. Once sealed it refuses new
// entries, which lets shutdown take a stable snapshot.
type Registry[T any] struct {
	shards []*shard[T]
	mask   uint64
	nextID atomic.Uint64
	count  atomic.Int64

	sealMu sync.RWMutex
	sealed bool
}

type shard[T any] struct {
	mu      sync.RWMutex
	entries map[uint64]T
}

// NewRegistry constructs a registry with shardCount shards, rounded up to a
// power of two.
func NewRegistry[T any](shardCount int) *Registry[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[T], n)
	for i := range shards {
		shards[i] = &shard[T]{entries: make(map[uint64]T)}
	}
	return &Registry[T]{shards: shards, mask: uint64(n - 1)}
}

func (r *Registry[T]) shard(id uint64) *shard[T] {
	return r.shards[id&r.mask]
}

// Add stores v and returns its id. ok is false when the registry is sealed.
func (r *Registry[T]) Add(v T) (id uint64, ok bool) {
	r.sealMu.RLock()
	defer r.sealMu.RUnlock()
	if r.sealed {
		return 0, false
	}
	id = r.nextID.Add(1)
	sh := r.shard(id)
	sh.mu.Lock()
	sh.entries[id] = v
	sh.mu.Unlock()
	r.count.Add(1)
	return id, true
}

// Remove drops id. Removing an unknown id is a no-op.
func (r *Registry[T]) Remove(id uint64) {
	sh := r.shard(id)
	sh.mu.Lock()
	_, ok := sh.entries[id]
	delete(sh.entries, id)
	sh.mu.Unlock()
	if ok {
		r.count.Add(-1)
	}
}

// Get fetches an entry if present.
func (r *Registry[T]) Get(id uint64) (T, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.entries[id]
	return v, ok
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	return int(r.count.Load())
}

// Range applies fn to every entry. fn must not call back into r.
func (r *Registry[T]) Range(fn func(id uint64, v T)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, v := range sh.entries {
			fn(id, v)
		}
		sh.mu.RUnlock()
	}
}

// Snapshot copies the live entries.
func (r *Registry[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	r.Range(func(_ uint64, v T) { out = append(out, v) })
	return out
}

// Seal refuses further Adds and returns the entries present at that moment.
func (r *Registry[T]) Seal() []T {
	r.sealMu.Lock()
	r.sealed = true
	r.sealMu.Unlock()
	return r.Snapshot()
}

// Sealed reports whether Seal was called.
func (r *Registry[T]) Sealed() bool {
	r.sealMu.RLock()
	defer r.sealMu.RUnlock()
	return r.sealed
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// File: protocol/observer.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Observer receives lifecycle and traffic notifications for metrics. Calls
// happen on connection goroutines and must not block.

package protocol

import "github.com/momentics/wsengine/api"

// Observer is implemented by metrics collectors.
type Observer interface {
	ConnectionOpened(role api.Role)
	ConnectionClosed(role api.Role, ev CloseEvent)
	FrameReceived(op Opcode, payloadLen int)
	FrameSent(op Opcode, payloadLen int)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) ConnectionOpened(api.Role)            {}
func (NopObserver) ConnectionClosed(api.Role, CloseEvent) {}
func (NopObserver) FrameReceived(Opcode, int)            {}
func (NopObserver) FrameSent(Opcode, int)                {}

// listeners is a subscription list whose entries can be removed through the
// function returned by add.
type listeners[T any] struct {
	next int
	fns  map[int]func(T)
	ids  []int
}

func (l *listeners[T]) add(fn func(T)) func() {
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.ids = append(l.ids, id)
	return func() { l.remove(id) }
}

func (l *listeners[T]) remove(id int) {
	if _, ok := l.fns[id]; !ok {
		return
	}
	delete(l.fns, id)
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
}

// snapshot returns the current subscribers in subscription order.
func (l *listeners[T]) snapshot() []func(T) {
	out := make([]func(T), 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.fns[id])
	}
	return out
}

func (l *listeners[T]) clear() {
	l.fns = nil
	l.ids = nil
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Manual clock for timer-driven tests.

package fake

import (
	"sort"
	"sync"
	"time"

	"github.com/momentics/wsengine/api"
)

var _ api.Scheduler = (*Clock)(nil)

// Clock is an api.Scheduler whose time only moves on Advance. Due callbacks
// run synchronously on the goroutine calling Advance, in deadline order.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*clockTimer
}

type clockTimer struct {
	clock    *Clock
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Schedule implements api.Scheduler.
func (c *Clock) Schedule(delay time.Duration, fn func()) api.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &clockTimer{clock: c, deadline: c.now.Add(delay), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Now implements api.Scheduler.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves time forward by d, firing every timer that falls due.
// Timers scheduled by a firing callback also fire if they fall inside d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.nextDueLocked(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		t.done = true
		c.removeLocked(t)
		c.now = t.deadline
		c.mu.Unlock()
		t.fn()
	}
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Clock) nextDueLocked(target time.Time) *clockTimer {
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *Clock) removeLocked(t *clockTimer) {
	for i, v := range c.timers {
		if v == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Cancel implements api.Timer.
func (t *clockTimer) Cancel() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	c.removeLocked(t)
	return true
}

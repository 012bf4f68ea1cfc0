// Package api
// Author: momentics
//
// Scheduler contract for the timers a connection arms (keepalive, close
// handshake, opening handshake).

package api

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Cancel stops the timer. It reports false if the callback already ran
	// or the timer was already cancelled.
	Cancel() bool
}

// Scheduler abstracts monotonic timer scheduling.
type Scheduler interface {
	// Schedule runs fn once after delay on a goroutine owned by the scheduler.
	Schedule(delay time.Duration, fn func()) Timer

	// Now returns the scheduler's notion of current time.
	Now() time.Time
}

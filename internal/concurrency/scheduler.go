// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wall-clock scheduler backed by the runtime timer heap.

package concurrency

import (
	"errors"
	"time"

	"github.com/momentics/wsengine/api"
)

// ErrTaskPanicked wraps a panic recovered from a queued task.
var ErrTaskPanicked = errors.New("task panicked")

// Ensure compile-time interface compliance.
var _ api.Scheduler = SystemScheduler{}

// SystemScheduler implements api.Scheduler with time.AfterFunc. Go timers
// use the monotonic clock, so wall-clock jumps do not shift deadlines.
type SystemScheduler struct{}

// Schedule runs fn after delay on its own goroutine.
func (SystemScheduler) Schedule(delay time.Duration, fn func()) api.Timer {
	return systemTimer{t: time.AfterFunc(delay, fn)}
}

// Now returns time.Now.
func (SystemScheduler) Now() time.Time {
	return time.Now()
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Cancel() bool {
	return s.t.Stop()
}

// File: internal/concurrency/ordered_queue.go
// Package concurrency implements the strict-order completion chain.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OrderedQueue runs tasks one at a time in enqueue order. A task starts only
// after the previous one has returned, whatever its outcome. No goroutine is
// held while the queue is idle: a drain goroutine is spawned on the first
// enqueue into an empty queue and exits once the backlog is empty.

package concurrency

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/wsengine/api"
)

// Task is one link of the chain. It blocks until its operation completes.
type Task func() error

type queuedTask struct {
	run    Task
	result chan error
}

// OrderedQueue is a single-consumer task mailbox.
type OrderedQueue struct {
	mu       sync.Mutex
	pending  *queue.Queue // *queuedTask
	running  bool
	disposed bool
	onError  func(error)
	done     chan struct{}
	doneOnce sync.Once
}

// NewOrderedQueue creates an empty queue. onError, if non-nil, observes every
// failed task; it is detached on Dispose.
func NewOrderedQueue(onError func(error)) *OrderedQueue {
	return &OrderedQueue{
		pending: queue.New(),
		onError: onError,
		done:    make(chan struct{}),
	}
}

// Enqueue appends task to the chain and returns a channel that receives the
// task's result exactly once. After Dispose the channel yields
// api.ErrQueueDisposed without running the task.
func (q *OrderedQueue) Enqueue(task Task) <-chan error {
	result := make(chan error, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		result <- api.ErrQueueDisposed
		return result
	}
	q.pending.Add(&queuedTask{run: task, result: result})
	if !q.running {
		q.running = true
		go q.drain()
	}
	return result
}

// Len returns the number of tasks not yet started.
func (q *OrderedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Disposed reports whether Dispose has been called.
func (q *OrderedQueue) Disposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}

// Dispose makes the queue inert. Tasks that have not started are settled
// with api.ErrQueueDisposed; a task already running is left to finish.
// Dispose never waits, so a task may dispose its own queue.
func (q *OrderedQueue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	q.disposed = true
	q.onError = nil
	for q.pending.Length() > 0 {
		t := q.pending.Remove().(*queuedTask)
		t.result <- api.ErrQueueDisposed
	}
	if !q.running {
		q.closeDone()
	}
}

// Done is closed once the queue is disposed and no task is running.
func (q *OrderedQueue) Done() <-chan struct{} {
	return q.done
}

func (q *OrderedQueue) drain() {
	for {
		q.mu.Lock()
		if q.disposed || q.pending.Length() == 0 {
			q.running = false
			if q.disposed {
				q.closeDone()
			}
			q.mu.Unlock()
			return
		}
		t := q.pending.Remove().(*queuedTask)
		q.mu.Unlock()

		err := execute(t.run)
		t.result <- err

		if err != nil {
			q.mu.Lock()
			onError := q.onError
			q.mu.Unlock()
			if onError != nil {
				onError(err)
			}
		}
	}
}

func (q *OrderedQueue) closeDone() {
	q.doneOnce.Do(func() { close(q.done) })
}

// execute runs task, converting a panic into an error so the chain survives.
func execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task()
}

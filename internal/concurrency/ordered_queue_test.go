package concurrency_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/wsengine/api"
	"github.com/momentics/wsengine/internal/concurrency"
)

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

func TestOrderedQueuePreservesOrder(t *testing.T) {
	q := concurrency.NewOrderedQueue(nil)
	defer q.Dispose()

	var mu sync.Mutex
	var got []int
	var last <-chan error
	for i := 0; i < 100; i++ {
		i := i
		last = q.Enqueue(func() error {
			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	if err := waitResult(t, last); err != nil {
		t.Fatalf("last task: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d ran task %d", i, v)
		}
	}
}

func TestOrderedQueueNeverOverlaps(t *testing.T) {
	q := concurrency.NewOrderedQueue(nil)
	defer q.Dispose()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch := q.Enqueue(func() error {
					n := atomic.AddInt32(&inFlight, 1)
					for {
						m := atomic.LoadInt32(&maxInFlight)
						if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
							break
						}
					}
					atomic.AddInt32(&inFlight, -1)
					return nil
				})
				<-ch
			}
		}()
	}
	wg.Wait()
	if maxInFlight != 1 {
		t.Fatalf("max concurrent tasks = %d, want 1", maxInFlight)
	}
}

func TestOrderedQueueFailureDoesNotStopChain(t *testing.T) {
	boom := errors.New("boom")
	var observed atomic.Int32
	q := concurrency.NewOrderedQueue(func(err error) {
		if errors.Is(err, boom) {
			observed.Add(1)
		}
	})
	defer q.Dispose()

	first := q.Enqueue(func() error { return boom })
	second := q.Enqueue(func() error { return nil })

	if err := waitResult(t, first); !errors.Is(err, boom) {
		t.Fatalf("first result = %v, want boom", err)
	}
	if err := waitResult(t, second); err != nil {
		t.Fatalf("second result = %v, want nil", err)
	}
	if observed.Load() != 1 {
		t.Fatalf("onError called %d times, want 1", observed.Load())
	}
}

func TestOrderedQueuePanicBecomesError(t *testing.T) {
	q := concurrency.NewOrderedQueue(nil)
	defer q.Dispose()

	err := waitResult(t, q.Enqueue(func() error { panic("kaboom") }))
	if !errors.Is(err, concurrency.ErrTaskPanicked) {
		t.Fatalf("result = %v, want ErrTaskPanicked", err)
	}
	if err := waitResult(t, q.Enqueue(func() error { return nil })); err != nil {
		t.Fatalf("queue unusable after panic: %v", err)
	}
}

func TestOrderedQueueDisposeSettlesPending(t *testing.T) {
	q := concurrency.NewOrderedQueue(nil)

	release := make(chan struct{})
	started := make(chan struct{})
	running := q.Enqueue(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var ran atomic.Bool
	pending1 := q.Enqueue(func() error { ran.Store(true); return nil })
	pending2 := q.Enqueue(func() error { ran.Store(true); return nil })
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	q.Dispose()

	if err := waitResult(t, pending1); !errors.Is(err, api.ErrQueueDisposed) {
		t.Fatalf("pending1 = %v, want ErrQueueDisposed", err)
	}
	if err := waitResult(t, pending2); !errors.Is(err, api.ErrQueueDisposed) {
		t.Fatalf("pending2 = %v, want ErrQueueDisposed", err)
	}

	select {
	case <-q.Done():
		t.Fatal("Done closed while a task is still running")
	default:
	}

	close(release)
	if err := waitResult(t, running); err != nil {
		t.Fatalf("running task = %v, want nil", err)
	}
	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after running task finished")
	}
	if ran.Load() {
		t.Fatal("a disposed task ran")
	}

	late := q.Enqueue(func() error { ran.Store(true); return nil })
	if err := waitResult(t, late); !errors.Is(err, api.ErrQueueDisposed) {
		t.Fatalf("enqueue after dispose = %v, want ErrQueueDisposed", err)
	}
	if !q.Disposed() {
		t.Fatal("Disposed() = false")
	}
}

func TestOrderedQueueDisposeFromInsideTask(t *testing.T) {
	q := concurrency.NewOrderedQueue(nil)
	ch := q.Enqueue(func() error {
		q.Dispose()
		return nil
	})
	if err := waitResult(t, ch); err != nil {
		t.Fatalf("self-disposing task = %v", err)
	}
	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
}

func TestSystemSchedulerCancel(t *testing.T) {
	var s concurrency.SystemScheduler
	fired := make(chan struct{}, 1)
	tm := s.Schedule(time.Hour, func() { fired <- struct{}{} })
	if !tm.Cancel() {
		t.Fatal("Cancel() of pending timer = false")
	}
	if tm.Cancel() {
		t.Fatal("second Cancel() = true")
	}

	s.Schedule(time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

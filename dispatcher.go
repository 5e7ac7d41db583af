package httpclient

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxWorkers is the default concurrency of the async worker pool.
const DefaultMaxWorkers = 5

// dispatcher runs asynchronous call executions with bounded concurrency.
// Tasks beyond the bound queue up behind the semaphore; callbacks never
// run under any internal lock.
type dispatcher struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func newDispatcher(maxWorkers int) *dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &dispatcher{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// enqueue schedules task for execution. Tasks submitted after shutdown are
// dropped.
func (d *dispatcher) enqueue(task func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		GetLogger().Warn("dropping task enqueued after shutdown")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		task()
	}()
}

// shutdown stops accepting tasks and waits for in-flight ones to finish.
func (d *dispatcher) shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

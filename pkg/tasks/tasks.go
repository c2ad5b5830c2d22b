// Package tasks runs session operations on a fixed worker pool and
// delivers each completion exactly once over a per-submission channel.
package tasks

import (
	"runtime"
	"sync"

	"github.com/havenlab/haven/pkg/errs"
)

// Result is the single completion of one submitted operation: a value
// or an error, never both set.
type Result struct {
	Value interface{}
	Err   error
}

type task struct {
	run func() (interface{}, error)
	out chan Result
}

// Pool is a fixed set of workers draining one shared queue.
type Pool struct {
	queue chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts a pool. Zero workers means one per CPU; zero buffer
// gets a generous default.
func NewPool(workers, buffer int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if buffer < 1 {
		buffer = 1024
	}
	p := &Pool{queue: make(chan task, buffer)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		value, err := t.run()
		t.out <- Result{Value: value, Err: err}
	}
}

// Submit queues fn and returns the channel its single Result will
// arrive on. The channel is buffered, so the result is delivered even
// if the caller reads late. Submitting to a closed pool completes
// immediately with an error.
func (p *Pool) Submit(fn func() (interface{}, error)) <-chan Result {
	out := make(chan Result, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		out <- Result{Err: errs.Errorf("tasks.Submit", errs.AllocationError, "pool is closed")}
		return out
	}
	p.queue <- task{run: fn, out: out}
	return out
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

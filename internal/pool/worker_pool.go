// Package pool provides a bounded worker pool for CPU-heavy tasks that
// must stay off the orchestration path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrQueueFull  = errors.New("task queue is full")
)

// Task is a unit of work executed by the pool.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed set of worker goroutines. Submit blocks
// until the task completes or the caller's context expires; an expired
// context abandons the result but lets the task run to completion, so tasks
// must themselves honor ctx to stop early.
type WorkerPool struct {
	tasks  chan taskWrapper
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type taskWrapper struct {
	ctx    context.Context
	task   Task
	result chan error
}

// New creates a pool with the given worker count and queue size and starts
// its workers.
func New(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &WorkerPool{tasks: make(chan taskWrapper, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for w := range p.tasks {
		if err := w.ctx.Err(); err != nil {
			w.result <- err
			continue
		}
		w.result <- p.run(w.ctx, w.task)
	}
}

func (p *WorkerPool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()
	return task(ctx)
}

// Submit runs task on the pool and waits for its result. The context bounds
// both queue wait and completion wait.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	w := taskWrapper{ctx: ctx, task: task, result: make(chan error, 1)}
	select {
	case p.tasks <- w:
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// Stats reports lifetime task counters.
func (p *WorkerPool) Stats() (submitted, completed, failed, rejected int64) {
	return p.submitted.Load(), p.completed.Load(), p.failed.Load(), p.rejected.Load()
}

// Package worker runs jobs on a fixed set of goroutines fed by a bounded queue.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

type ProcessFunc[T any] func(ctx context.Context, job T) error

type Pool[T any] struct {
	name       string
	numWorkers int
	jobs       chan T
	processor  ProcessFunc[T]
	onResult   func(err error)
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewPool creates a pool; onResult, if non-nil, observes every job outcome.
func NewPool[T any](name string, numWorkers, bufferSize int, processor ProcessFunc[T], onResult func(error)) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool[T]{
		name:       name,
		numWorkers: numWorkers,
		jobs:       make(chan T, bufferSize),
		processor:  processor,
		onResult:   onResult,
	}
}

func (p *Pool[T]) Start(ctx context.Context) {
	for i := 1; i <= p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			err := p.processor(ctx, job)
			if err != nil {
				slog.Debug("job failed", "pool", p.name, "worker", id, "error", err)
			}
			if p.onResult != nil {
				p.onResult(err)
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full. It reports false
// when ctx ends first.
func (p *Pool[T]) Submit(ctx context.Context, job T) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the queue and waits for the workers. Jobs still queued are
// drained unless the worker context was cancelled. Submit must not be
// called after Stop.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}

// Package pool runs submitted functions on a fixed number of goroutines.
package pool

import (
	"context"
	"sync"
)

type Task func()

// Pool hands tasks to numWorkers goroutines in submission order. With a single
// worker, tasks run strictly one after another.
type Pool struct {
	numWorkers int
	tasks      chan Task
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func New(numWorkers int) *Pool {
	return &Pool{
		numWorkers: max(numWorkers, 1),
		tasks:      make(chan Task),
	}
}

func (p *Pool) Size() int {
	return p.numWorkers
}

func (p *Pool) Start() {
	for range p.numWorkers {
		p.wg.Go(func() {
			for task := range p.tasks {
				task()
			}
		})
	}
}

// Submit blocks until a worker accepts task or ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for the running ones. It is safe to
// call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

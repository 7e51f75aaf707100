package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// WorkerRegistry tracks workers that were spawned and not yet confirmed
// terminated, so that a failure anywhere can reach all of them.
type WorkerRegistry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		workers: make(map[string]Worker),
	}
}

func (r *WorkerRegistry) Add(w Worker) error {
	if w == nil {
		return errors.New("cannot register nil worker")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.ID()]; exists {
		return fmt.Errorf("worker already registered: %s", w.ID())
	}
	r.workers[w.ID()] = w
	return nil
}

// Terminate stops w and deregisters it once termination is confirmed. A
// worker that is not registered is still terminated.
func (r *WorkerRegistry) Terminate(w Worker) error {
	if err := w.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate worker %s: %w", w.ID(), err)
	}
	r.mu.Lock()
	delete(r.workers, w.ID())
	r.mu.Unlock()
	return nil
}

// TerminateAll terminates every registered worker and joins the failures.
// Workers that fail to terminate stay registered.
func (r *WorkerRegistry) TerminateAll() error {
	r.mu.RLock()
	workers := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	var errs []error
	for _, w := range workers {
		if err := r.Terminate(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *WorkerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// IDs returns the registered worker ids, sorted.
func (r *WorkerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

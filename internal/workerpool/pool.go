// Package workerpool implements a small bounded goroutine pool with
// panic recovery, adapted from the agent's internal worker pool. It is
// the concurrency primitive behind the frame ingester (spec.md §4.8).
package workerpool

import (
	"sync"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs at most Size tasks concurrently. The zero value is not
// usable; construct with New.
type Pool struct {
	size int
	sem  chan struct{}

	mu       sync.Mutex
	accepting bool
	wg       sync.WaitGroup
}

// New builds a pool with the given worker concurrency. size < 1 is
// clamped to 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:      size,
		sem:       make(chan struct{}, size),
		accepting: true,
	}
}

// Submit enqueues a task, blocking if the pool is at capacity. Returns
// false without running the task if the pool has stopped accepting
// work.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	if !p.accepting {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.sem <- struct{}{}
	go p.runTask(task)
	return true
}

// TrySubmit enqueues a task only if a worker slot is immediately
// available. Returns false if the pool is saturated or stopped.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.Lock()
	if !p.accepting {
		p.mu.Unlock()
		return false
	}
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		p.mu.Unlock()
		go p.runTask(task)
		return true
	default:
		p.mu.Unlock()
		return false
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		<-p.sem
		p.wg.Done()
		if r := recover(); r != nil {
			log.Error("worker task panicked", "panic", r)
		}
	}()
	task()
}

// StopAccepting rejects further Submit/TrySubmit calls; in-flight tasks
// continue running.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()
}

// Drain blocks until all submitted tasks have completed. Call
// StopAccepting first to bound the wait.
func (p *Pool) Drain() {
	p.wg.Wait()
}

// InFlight returns the number of tasks currently holding a worker
// slot; tasks blocked in Submit waiting for a slot are not counted.
func (p *Pool) InFlight() int {
	return len(p.sem)
}

// Capacity returns the pool's configured concurrency.
func (p *Pool) Capacity() int { return p.size }

/*
pool.go - Bounded ingestion worker pool

PURPOSE:
  Payload processing happens off the HTTP request path. The intake
  handler records an ingestion log entry, submits a job here, and
  returns immediately; a fixed set of workers drains the queue and runs
  the orchestrator. The queue is bounded so a flood of payloads degrades
  to explicit ErrQueueFull instead of unbounded memory growth.

USAGE:
  pool := ingest.NewPool(4, 64)
  pool.Start()
  // ... later
  pool.Stop()
*/
package ingest

import (
	"errors"
	"log"
	"sync"
)

// ErrQueueFull is returned by Submit when the job queue is at capacity.
var ErrQueueFull = errors.New("ingestion queue is full")

// Job is one unit of background work.
type Job func()

// Pool runs jobs on a fixed number of workers over a bounded queue.
type Pool struct {
	workers int
	jobs    chan Job

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers * 8
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueDepth),
		stop:    make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Printf("[Pool] Started %d ingestion worker(s), queue depth %d", p.workers, cap(p.jobs))
}

// Stop drains in-flight jobs and shuts the workers down. Queued jobs that
// have not started are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.started = false
	log.Println("[Pool] Stopped")
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports the number of queued jobs.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.safeRun(id, job)
		case <-p.stop:
			return
		}
	}
}

// safeRun keeps one bad payload from killing a worker.
func (p *Pool) safeRun(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pool] worker %d: job panicked: %v", id, r)
		}
	}()
	job()
}

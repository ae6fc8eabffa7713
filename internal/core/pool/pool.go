// Package pool provides the bounded worker pool that runs all request
// processing off of the I/O goroutines.
package pool

import "sync"

// Pool executes submitted jobs on a fixed number of worker goroutines.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// New starts size workers draining the job queue.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{jobs: make(chan func(), size)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit enqueues a job, blocking while all workers are busy and the
// queue is full.
func (p *Pool) Submit(job func()) {
	p.jobs <- job
}

// Shutdown stops accepting jobs and waits for in-flight ones to finish.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}

package chainclient

import (
	"sync"
	"time"
)

// workerPool multiplexes upstream requests over a fixed number of workers.
// Jobs queue in FIFO order and are released as in-flight slots free up, so
// the number of outstanding requests never exceeds the worker count.
type workerPool struct {
	jobs      chan func()
	delay     time.Duration
	closeOnce sync.Once
}

func newWorkerPool(workers int, queueDepth int, delay time.Duration) *workerPool {
	pool := &workerPool{
		jobs:  make(chan func(), queueDepth),
		delay: delay,
	}
	for i := 0; i < workers; i++ {
		spawn(pool.worker)
	}
	return pool
}

func (p *workerPool) worker() {
	for job := range p.jobs {
		job()
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
	}
}

// submit enqueues a job. It blocks when the queue is full, which is the
// backpressure the sync engine relies on.
func (p *workerPool) submit(job func()) {
	p.jobs <- job
}

func (p *workerPool) close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
}

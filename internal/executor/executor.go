// Package executor provides a single-worker FIFO job queue for CPU-heavy work
// that must stay off the real-time audio path.
//
// Exactly one job runs at a time. Codec state touched only from jobs therefore
// needs no lock of its own. [Executor.WaitForCompletion] is the drain barrier
// used by the device state machine before it resets codecs.
package executor

import (
	"log/slog"
	"sync"
)

// Executor runs submitted jobs one at a time in submission order.
// All exported methods are safe for concurrent use, except that
// WaitForCompletion must not be called from inside a job.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond // broadcast when a job finishes, a job is queued, or Close is called
	jobs    []func()
	running bool
	closed  bool
	done    chan struct{}
}

// New creates an [Executor] and starts its worker goroutine. Call
// [Executor.Close] to stop it.
func New() *Executor {
	e := &Executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.work()
	return e
}

// Submit enqueues job. It never blocks on the job itself. Returns false if the
// executor has been closed, in which case job is discarded.
func (e *Executor) Submit(job func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.jobs = append(e.jobs, job)
	e.cond.Broadcast()
	return true
}

// WaitForCompletion blocks until the queue is empty and no job is running.
// There is no timeout.
func (e *Executor) WaitForCompletion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.jobs) > 0 || e.running {
		e.cond.Wait()
	}
}

// Pending returns the number of queued jobs plus the running one, if any.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.jobs)
	if e.running {
		n++
	}
	return n
}

// Close stops accepting jobs, lets the queued ones finish and waits for the
// worker to exit. Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
}

func (e *Executor) work() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.jobs) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.jobs) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.jobs[0]
		e.jobs[0] = nil
		e.jobs = e.jobs[1:]
		e.running = true
		e.mu.Unlock()

		run(job)

		e.mu.Lock()
		e.running = false
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

// run executes job, containing a panic so that one bad frame cannot stop the
// worker.
func run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor: job panicked", "panic", r)
		}
	}()
	job()
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Close when the runner was already shut down.
var ErrClosed = errors.New("task runner closed")

// Task is a best-effort unit of work.
type Task func(ctx context.Context) error

// Stats reports runner counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

type job struct {
	name string
	fn   Task
}

// Runner executes fire-and-forget tasks on a fixed set of workers behind a
// bounded queue. Submit never blocks the caller.
type Runner struct {
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewRunner starts workers goroutines reading from a queue of the given size.
func NewRunner(workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{queue: make(chan job, queueSize), ctx: ctx, cancel: cancel}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues a task. It reports false when the queue is full or the
// runner is closed; the task is then dropped.
func (r *Runner) Submit(name string, fn Task) bool {
	if r == nil || fn == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		r.submitted.Add(1)
		return true
	default:
		r.dropped.Add(1)
		logrus.WithField("task", name).Warn("task queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks see their context cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("drain tasks: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		Queued:    len(r.queue),
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			logrus.WithFields(logrus.Fields{
				"task":  j.name,
				"panic": rec,
			}).Error("task panicked")
		}
	}()
	if err := j.fn(r.ctx); err != nil {
		r.failed.Add(1)
		logrus.WithError(err).WithField("task", j.name).Warn("task failed")
		return
	}
	r.completed.Add(1)
}

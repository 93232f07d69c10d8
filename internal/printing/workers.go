package printing

import (
	"context"
	"errors"
	"sync"

	"shopops/internal/logging"
)

// ErrWorkersClosed is returned by Do after Close.
var ErrWorkersClosed = errors.New("print workers closed")

type queueJob struct {
	fn   func() error
	done chan error
}

// QueueWorkers runs print submissions one at a time per logical queue. Jobs
// for different queues run in parallel. Queues are unbuffered so an accepted
// job is always run.
type QueueWorkers struct {
	mu     sync.Mutex
	queues map[string]chan queueJob
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewQueueWorkers creates an empty worker set. Workers start on first use.
func NewQueueWorkers() *QueueWorkers {
	return &QueueWorkers{
		queues: make(map[string]chan queueJob),
		quit:   make(chan struct{}),
	}
}

func (w *QueueWorkers) queue(name string) chan queueJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.quit:
		return nil
	default:
	}
	ch, ok := w.queues[name]
	if !ok {
		ch = make(chan queueJob)
		w.queues[name] = ch
		w.wg.Add(1)
		go w.loop(name, ch)
	}
	return ch
}

func (w *QueueWorkers) loop(name string, ch chan queueJob) {
	defer w.wg.Done()
	logging.PrintDebug("Print worker for queue %s started", name)
	for {
		select {
		case j := <-ch:
			j.done <- j.fn()
		case <-w.quit:
			return
		}
	}
}

// Do runs fn on the worker for queue and waits for it. Once a job has been
// accepted Do waits for it to finish even if ctx ends, because fn may still
// be using resources owned by the caller.
func (w *QueueWorkers) Do(ctx context.Context, queue string, fn func() error) error {
	select {
	case <-w.quit:
		return ErrWorkersClosed
	default:
	}
	j := queueJob{fn: fn, done: make(chan error, 1)}
	select {
	case w.queue(queue) <- j:
	case <-w.quit:
		return ErrWorkersClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-w.quit:
		// The worker may still be finishing this job.
		return <-j.done
	}
}

// Close stops every worker after its current job.
func (w *QueueWorkers) Close() {
	w.mu.Lock()
	w.once.Do(func() { close(w.quit) })
	w.mu.Unlock()
	w.wg.Wait()
}

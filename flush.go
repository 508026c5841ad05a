package strata

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FlushHandle reports the completion of one queued metadata flush.
type FlushHandle struct {
	done chan struct{}
	err  error
}

// Done returns a channel that is closed once the flush ran.
func (h *FlushHandle) Done() <-chan struct{} { return h.done }

// Err returns the flush outcome. Only valid after Done is closed.
func (h *FlushHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the flush ran or ctx is done.
func (h *FlushHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func completedHandle(err error) *FlushHandle {
	h := &FlushHandle{done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

type flushJob struct {
	handle *FlushHandle
	run    func(context.Context) error
}

// flusher serializes metadata persistence on a single worker goroutine. Jobs
// run in submission order, so an empty job doubles as a barrier: once it
// completes, every job enqueued before it has completed too.
type flusher struct {
	jobs chan flushJob
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newFlusher(depth int) *flusher {
	if depth <= 0 {
		depth = 64
	}
	f := &flusher{jobs: make(chan flushJob, depth)}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *flusher) run() {
	defer f.wg.Done()
	// Queued work still runs after Close gave up waiting, so jobs get a
	// background context rather than a caller's.
	ctx := context.Background()
	for job := range f.jobs {
		if job.run != nil {
			job.handle.err = job.run(ctx)
		}
		close(job.handle.done)
	}
}

// Enqueue queues fn on the flush worker and returns a handle for awaiting it.
// When the queue is full, Enqueue blocks until the worker catches up. After
// Close the handle completes immediately with ErrClosed.
func (f *flusher) Enqueue(fn func(context.Context) error) *FlushHandle {
	h := &FlushHandle{done: make(chan struct{})}

	// The lock covers the send so no job can race the channel close.
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		h.err = ErrClosed
		close(h.done)
		return h
	}
	f.jobs <- flushJob{handle: h, run: fn}
	return h
}

// Barrier returns a handle that completes once every job enqueued before it
// has run.
func (f *flusher) Barrier() *FlushHandle {
	return f.Enqueue(nil)
}

// Close stops accepting jobs and waits up to timeout for the queue to drain.
// On timeout it returns an error and lets the worker finish in the
// background; shutdown proceeds either way.
func (f *flusher) Close(timeout time.Duration) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.jobs)
	f.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(drained)
	}()

	if timeout <= 0 {
		<-drained
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("flush queue did not drain within %s", timeout)
	}
}

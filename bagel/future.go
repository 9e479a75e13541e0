package bagel

import (
	"context"
	"sync"
)

// Future is the handle of an asynchronous submission.
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	result    *ComputerResult
	err       error
	cancelled bool
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{done: make(chan struct{}), cancel: cancel}
}

func (f *Future) resolve(result *ComputerResult, err error) {
	f.mu.Lock()
	f.result, f.err = result, err
	f.mu.Unlock()
	close(f.done)
}

// Get blocks until the submission finished or ctx is done.
func (f *Future) Get(ctx context.Context) (*ComputerResult, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the submission to stop. It is observed between supersteps and
// MapReduce stages; output already written to a sink stays.
func (f *Future) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	f.cancel()
}

func (f *Future) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

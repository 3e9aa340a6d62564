package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// Runner executes fire-and-forget work on goroutines that outlive the
// request that scheduled them. Drain waits for them on shutdown.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *log.Logger
}

func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: logger}
}

// Go schedules fn. Its error is logged, never returned. Work submitted after
// Drain has started runs inline on a context that Drain's cancel does not
// reach.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.run(context.WithoutCancel(r.ctx), name, fn)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.run(r.ctx, name, fn)
	}()
}

func (r *Runner) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("[jobs] %s panicked: %v", name, p)
		}
	}()
	if err := fn(ctx); err != nil {
		r.logger.Printf("[jobs] %s failed: %v", name, err)
	}
}

// Drain waits up to timeout for scheduled work, then cancels whatever is
// still running. It reports whether everything finished in time.
func (r *Runner) Drain(timeout time.Duration) bool {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	defer r.cancel()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Printf("[jobs] drain timed out after %s, cancelling background work", timeout)
		return false
	}
}

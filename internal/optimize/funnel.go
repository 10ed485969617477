// Package optimize searches over the structured strategy's demonstration
// sets, scoring candidate decks against a persona panel and keeping the best.
package optimize

import (
	"context"
	"fmt"
	"sync"
)

// Funnel serialises work onto one persistent worker goroutine. The structured
// program's mutable configuration is only ever touched from jobs submitted
// here, so reconfiguration and generation can never interleave; ownership is
// funnelled rather than locked around.
type Funnel struct {
	jobs      chan job
	quit      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

type job struct {
	fn   func() error
	done chan error
}

// NewFunnel starts the worker goroutine.
func NewFunnel() *Funnel {
	f := &Funnel{
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go f.worker()
	return f
}

func (f *Funnel) worker() {
	defer close(f.closed)
	for {
		select {
		case j := <-f.jobs:
			j.done <- j.fn()
		case <-f.quit:
			return
		}
	}
}

// Do runs fn on the worker goroutine and waits for its result. It fails fast
// when ctx is cancelled before the job is picked up; once fn is running it is
// allowed to finish (fn observes ctx itself).
func (f *Funnel) Do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case f.jobs <- j:
		return <-j.done
	case <-ctx.Done():
		return ctx.Err()
	case <-f.quit:
		return fmt.Errorf("optimize: funnel closed")
	}
}

// Close stops the worker after any running job finishes. Do calls that never
// reached the worker fail. Close is idempotent and blocks until the worker
// has exited.
func (f *Funnel) Close() {
	f.closeOnce.Do(func() { close(f.quit) })
	<-f.closed
}

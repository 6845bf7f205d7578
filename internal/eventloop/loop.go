// Package eventloop serializes callbacks onto a single goroutine.
//
// Socket events, device completions, timers and UI requests are all posted to
// one Loop so session state has a single writer at any instant.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("event loop closed")

// Loop runs posted tasks one at a time in FIFO order. The queue is unbounded
// so posting never blocks the poster.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	runOnce   sync.Once
	closeOnce sync.Once
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start runs the loop on its own goroutine until ctx ends or Close is called.
func (l *Loop) Start(ctx context.Context) {
	l.runOnce.Do(func() {
		go l.run(ctx)
	})
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			task()
		}

		select {
		case <-l.wake:
		case <-l.stop:
			return
		case <-ctx.Done():
			l.markClosed()
			return
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// Post enqueues fn. It reports false when the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// AfterFunc posts fn once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Call posts fn and waits until it has run. It must not be called from a
// task running on the loop.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the loop after the task currently running, dropping queued
// tasks, and waits for the goroutine to exit if it was started.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.markClosed()
		close(l.stop)
	})
	// A loop that never started has no goroutine to close done.
	l.runOnce.Do(func() {
		close(l.done)
	})
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
}

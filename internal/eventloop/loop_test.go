package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	loop := New()
	loop.Start(context.Background())
	defer loop.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	if err := loop.Call(func() {}); err != nil {
		t.Fatalf("call failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("expected 100 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (%d)", i, v)
		}
	}
}

func TestLoopPostFromTaskDoesNotBlock(t *testing.T) {
	t.Parallel()

	loop := New()
	loop.Start(context.Background())
	defer loop.Close()

	ran := make(chan struct{})
	loop.Post(func() {
		for i := 0; i < 1000; i++ {
			loop.Post(func() {})
		}
		loop.Post(func() { close(ran) })
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("nested posts did not run")
	}
}

func TestLoopAfterFunc(t *testing.T) {
	t.Parallel()

	loop := New()
	loop.Start(context.Background())
	defer loop.Close()

	fired := make(chan struct{})
	loop.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer task did not run")
	}
}

func TestLoopClosedRejectsWork(t *testing.T) {
	t.Parallel()

	loop := New()
	loop.Start(context.Background())
	loop.Close()
	loop.Close()

	if loop.Post(func() {}) {
		t.Fatalf("expected post to fail after close")
	}
	if err := loop.Call(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoopCloseWithoutStart(t *testing.T) {
	t.Parallel()

	loop := New()
	done := make(chan struct{})
	go func() {
		loop.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close blocked on a loop that never started")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	loop := New()
	loop.Start(ctx)
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
	if loop.Post(func() {}) {
		t.Fatalf("expected post to fail after cancel")
	}
}

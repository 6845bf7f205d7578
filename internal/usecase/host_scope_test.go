package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newScope(h *harness) (*HostScope, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	scope := NewHostScope(h.controller, zerolog.Nop(), 500*time.Millisecond)
	scope.now = clock.Now
	return scope, clock
}

func TestHostScopeSkipsTeardownOnFastFirstUnmount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, clock := newScope(h)
	if _, err := scope.Mount(); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	conn := h.startRecording(t)

	clock.Advance(100 * time.Millisecond)
	tornDown, err := scope.Unmount()
	if err != nil {
		t.Fatalf("unmount failed: %v", err)
	}
	if tornDown {
		t.Fatalf("fast first unmount should be treated as a remount")
	}
	if got := h.controller.Status().State; got != domain.SessionStateRecording {
		t.Fatalf("session should survive a transient remount, got %s", got)
	}

	// The remount orphans the old session's callbacks, so its resources are
	// released before the new identity takes over.
	if _, err := scope.Mount(); err != nil {
		t.Fatalf("remount failed: %v", err)
	}
	waitFor(t, "previous connection closed", conn.isClosed)
	if got := h.backend.log.count("stop_tracks"); got != 1 {
		t.Fatalf("expected capture released on remount, got %d", got)
	}
	if got := h.controller.Status().State; got != domain.SessionStateInactive {
		t.Fatalf("unexpected state after remount: %s", got)
	}
}

func TestHostScopeTearsDownOnGenuineUnmount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, clock := newScope(h)
	if _, err := scope.Mount(); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	conn := h.startRecording(t)

	clock.Advance(2 * time.Second)
	tornDown, err := scope.Unmount()
	if err != nil {
		t.Fatalf("unmount failed: %v", err)
	}
	if !tornDown {
		t.Fatalf("expected teardown")
	}
	waitFor(t, "close frame", func() bool { return conn.closeCode() == domain.CloseNormal })
	if reason := conn.closeReason(); reason != "Client stopping transcription (final)" {
		t.Fatalf("unexpected close reason: %q", reason)
	}
	if got := h.controller.Status().State; got != domain.SessionStateInactive {
		t.Fatalf("unexpected state: %s", got)
	}
}

func TestHostScopeSecondMountAlwaysTearsDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, _ := newScope(h)
	for i := 0; i < 2; i++ {
		if _, err := scope.Mount(); err != nil {
			t.Fatalf("mount failed: %v", err)
		}
	}
	conn := h.startRecording(t)

	tornDown, err := scope.Unmount()
	if err != nil || !tornDown {
		t.Fatalf("expected teardown on second mount: torn=%t err=%v", tornDown, err)
	}
	waitFor(t, "connection closed", conn.isClosed)
}

func TestHostScopeMountMintsFreshIdentity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, _ := newScope(h)
	first, err := scope.Mount()
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	second, err := scope.Mount()
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if first == 0 || second == first || h.ids.Current() != second {
		t.Fatalf("unexpected identities: first=%d second=%d current=%d", first, second, h.ids.Current())
	}
}

func TestHostScopeSuspendAndResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, _ := newScope(h)
	conn := h.startRecording(t)

	if err := scope.Suspend(); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if got := h.controller.Status().State; got != domain.SessionStateDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
	waitFor(t, "connection closed", conn.isClosed)
	if reason := conn.closeReason(); reason != "Client stopping transcription (suspend)" {
		t.Fatalf("unexpected close reason: %q", reason)
	}

	before := h.ids.Current()
	if err := scope.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if got := h.controller.Status().State; got != domain.SessionStateInactive {
		t.Fatalf("expected inactive, got %s", got)
	}
	if h.ids.Current() == before {
		t.Fatalf("resume should mint a new identity")
	}

	h.startRecording(t)
}

func TestHostScopeStartFromDisconnected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, _ := newScope(h)
	if err := scope.Suspend(); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	h.startRecording(t)
}

func TestHostScopeDestroyStopsController(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	scope, _ := newScope(h)
	conn := h.startRecording(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := scope.Destroy(ctx); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	waitFor(t, "connection closed", conn.isClosed)
	if h.backend.log.count("stop_tracks") != 1 {
		t.Fatalf("expected capture released")
	}
	if err := h.controller.Start(); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("expected closed controller, got %v", err)
	}
}

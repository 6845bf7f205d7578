package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
)

// HostScope binds a controller to the lifecycle of its hosting UI. Hosts
// that can tell a pause from a teardown should call Suspend and Destroy;
// Unmount infers intent from timing for hosts that cannot.
type HostScope struct {
	controller *SessionController
	logger     zerolog.Logger
	window     time.Duration
	now        func() time.Time

	mu        sync.Mutex
	mounts    int
	mountedAt time.Time
}

func NewHostScope(controller *SessionController, logger zerolog.Logger, remountWindow time.Duration) *HostScope {
	return &HostScope{
		controller: controller,
		logger:     logger,
		window:     remountWindow,
		now:        time.Now,
	}
}

// Mount mints a fresh identity, orphaning every callback of the previous
// mount.
func (h *HostScope) Mount() (domain.Identity, error) {
	h.mu.Lock()
	h.mounts++
	h.mountedAt = h.now()
	mounts := h.mounts
	h.mu.Unlock()

	var id domain.Identity
	err := h.controller.call(func() {
		id = h.controller.remount()
	})
	if err != nil {
		return 0, err
	}
	h.logger.Info().Int("mount", mounts).Uint64("identity", uint64(id)).Msg("host mounted")
	return id, nil
}

// Unmount tears the session down unless the unmount looks like a
// framework-driven remount: the first mount being destroyed within the
// remount window. It reports whether teardown ran.
//
// A genuine unmount that happens to be fast is mistaken for a remount and
// leaves the session running until the next Mount releases it.
func (h *HostScope) Unmount() (bool, error) {
	h.mu.Lock()
	elapsed := h.now().Sub(h.mountedAt)
	first := h.mounts == 1
	h.mu.Unlock()

	if first && elapsed < h.window {
		h.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("window", h.window).
			Msg("unmount right after first mount; treating as a transient remount and keeping the session")
		return false, nil
	}
	h.logger.Info().Dur("elapsed", elapsed).Msg("host unmounted; tearing down session")
	if err := h.controller.call(h.controller.teardownFinal); err != nil {
		return false, err
	}
	return true, nil
}

// Suspend releases the session and parks it in Disconnected.
func (h *HostScope) Suspend() error {
	h.logger.Info().Msg("host suspended session")
	return h.controller.call(h.controller.suspend)
}

// Resume returns a suspended session to Inactive under a new identity.
func (h *HostScope) Resume() error {
	h.logger.Info().Msg("host resumed session")
	return h.controller.call(h.controller.resume)
}

// Destroy performs the final teardown and stops the controller.
func (h *HostScope) Destroy(ctx context.Context) error {
	h.logger.Info().Msg("host destroyed session")
	return h.controller.Shutdown(ctx)
}

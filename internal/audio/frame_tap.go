package audio

import (
	"sync/atomic"

	"livescribe/internal/ports"
)

// FrameTap hands fixed-size frames from a device thread to one handler.
type FrameTap struct {
	size         int
	handler      atomic.Pointer[ports.FrameHandler]
	disconnected atomic.Bool
}

func NewFrameTap(size int) *FrameTap {
	return &FrameTap{size: size}
}

// Size is the number of samples per frame.
func (t *FrameTap) Size() int {
	return t.size
}

// SetHandler replaces the handler. A nil handler detaches it.
func (t *FrameTap) SetHandler(handler ports.FrameHandler) {
	if handler == nil {
		t.handler.Store(nil)
		return
	}
	t.handler.Store(&handler)
}

// Deliver invokes the handler unless the tap is detached or disconnected.
func (t *FrameTap) Deliver(samples []float32) {
	if t.disconnected.Load() {
		return
	}
	handler := t.handler.Load()
	if handler == nil {
		return
	}
	(*handler)(samples)
}

func (t *FrameTap) Disconnect() error {
	t.disconnected.Store(true)
	return nil
}

// Disconnected reports whether Disconnect has been called.
func (t *FrameTap) Disconnected() bool {
	return t.disconnected.Load()
}

package usecase

import (
	"sync/atomic"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// Identities mints session identities. The host scope mints on mount and
// the controller mints on every start; every asynchronous callback compares
// the identity it captured against Current.
type Identities struct {
	current atomic.Uint64
}

func NewIdentities() *Identities {
	return &Identities{}
}

func (i *Identities) Mint() domain.Identity {
	return domain.Identity(i.current.Add(1))
}

func (i *Identities) Current() domain.Identity {
	return domain.Identity(i.current.Load())
}

func (i *Identities) IsCurrent(id domain.Identity) bool {
	return id != 0 && id == i.Current()
}

// captureResources is the set of handles one capture episode owns. Members
// are nil until acquired and reset to nil once released.
type captureResources struct {
	context ports.CaptureContext
	stream  ports.DeviceStream
	source  ports.SourceNode
	tap     ports.FrameTap
}

func (r *captureResources) empty() bool {
	return r.context == nil && r.stream == nil && r.source == nil && r.tap == nil
}

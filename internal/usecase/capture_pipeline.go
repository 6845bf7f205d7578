package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
	"livescribe/internal/eventloop"
	"livescribe/internal/observability"
	"livescribe/internal/ports"
)

const dropWarnInterval = 2 * time.Second

type captureListener interface {
	captureReady(id domain.Identity, sampleRate int)
	captureFailed(id domain.Identity, err error)
}

// frameSink is called from the device thread.
type frameSink interface {
	Open() bool
	SendFrame(samples []float32)
}

// capturePipeline acquires the microphone for one recording episode and
// forwards its frames to the channel. All methods except onFrame run on the
// event loop.
type capturePipeline struct {
	backend    ports.CaptureBackend
	loop       *eventloop.Loop
	identities *Identities
	sink       frameSink
	listener   captureListener
	logger     zerolog.Logger
	metrics    *observability.Metrics

	sampleRate int
	frameSize  int

	// epoch advances on every initialize and teardown so that a completion
	// from an abandoned episode is recognized even when the identity is
	// unchanged.
	epoch     uint64
	resources captureResources

	active       atomic.Bool
	lastDropWarn atomic.Int64
}

func newCapturePipeline(
	backend ports.CaptureBackend,
	loop *eventloop.Loop,
	identities *Identities,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	sampleRate int,
	frameSize int,
) *capturePipeline {
	return &capturePipeline{
		backend:    backend,
		loop:       loop,
		identities: identities,
		logger:     logger,
		metrics:    metrics,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
}

func (p *capturePipeline) initialize(id domain.Identity) {
	if !p.resources.empty() {
		p.logger.Warn().Uint64("identity", uint64(id)).Msg("releasing capture resources left by a previous episode")
		p.teardown()
	}
	p.epoch++
	epoch := p.epoch

	p.logger.Info().
		Uint64("identity", uint64(id)).
		Int("sample_rate", p.sampleRate).
		Int("frame_size", p.frameSize).
		Msg("initializing audio capture")

	go func() {
		capCtx, err := p.backend.NewContext(context.Background(), p.sampleRate)
		if !p.loop.Post(func() { p.contextCreated(id, epoch, capCtx, err) }) && capCtx != nil {
			_ = capCtx.Close()
		}
	}()
}

func (p *capturePipeline) contextCreated(id domain.Identity, epoch uint64, capCtx ports.CaptureContext, err error) {
	if p.superseded(id, epoch, "context") {
		if capCtx != nil {
			go p.closeContext(capCtx)
		}
		return
	}
	if err != nil {
		p.fail(id, err)
		return
	}
	p.resources.context = capCtx

	if actual := capCtx.SampleRate(); actual != p.sampleRate {
		p.logger.Warn().
			Int("requested", p.sampleRate).
			Int("actual", actual).
			Msg("capture context sample rate differs from requested rate; the backend must accept the actual rate")
	}

	if capCtx.Suspended() {
		p.logger.Debug().Msg("capture context suspended; resuming")
		go func() {
			err := capCtx.Resume(context.Background())
			p.loop.Post(func() { p.resumed(id, epoch, err) })
		}()
		return
	}
	p.openMicrophone(id, epoch)
}

func (p *capturePipeline) resumed(id domain.Identity, epoch uint64, err error) {
	if p.superseded(id, epoch, "resume") {
		return
	}
	if err != nil {
		p.fail(id, err)
		return
	}
	p.openMicrophone(id, epoch)
}

func (p *capturePipeline) openMicrophone(id domain.Identity, epoch uint64) {
	capCtx := p.resources.context
	go func() {
		stream, err := capCtx.OpenMicrophone(context.Background())
		if !p.loop.Post(func() { p.microphoneOpened(id, epoch, stream, err) }) && stream != nil {
			_ = stream.StopTracks()
		}
	}()
}

func (p *capturePipeline) microphoneOpened(id domain.Identity, epoch uint64, stream ports.DeviceStream, err error) {
	if p.superseded(id, epoch, "microphone") {
		if stream != nil {
			if stopErr := stream.StopTracks(); stopErr != nil {
				p.logger.Warn().Err(stopErr).Msg("failed to stop tracks of an abandoned microphone stream")
			}
		}
		return
	}
	if err != nil {
		p.fail(id, err)
		return
	}
	p.resources.stream = stream

	source, err := p.resources.context.CreateSource(stream)
	if err != nil {
		p.fail(id, err)
		return
	}
	p.resources.source = source

	tap, err := p.resources.context.CreateFrameTap(p.frameSize)
	if err != nil {
		p.fail(id, err)
		return
	}
	p.resources.tap = tap
	tap.SetHandler(p.onFrame)

	if err := source.Connect(tap); err != nil {
		p.fail(id, err)
		return
	}

	p.logger.Info().Uint64("identity", uint64(id)).Msg("audio capture ready")
	p.listener.captureReady(id, p.resources.context.SampleRate())
}

// superseded reports whether a completion belongs to an abandoned episode.
// When the episode is current but its identity is not, the partially
// acquired resources are released.
func (p *capturePipeline) superseded(id domain.Identity, epoch uint64, step string) bool {
	if epoch != p.epoch {
		p.logger.Debug().Uint64("identity", uint64(id)).Str("step", step).Msg("discarding completion of an abandoned capture episode")
		p.metrics.StaleEvent("capture")
		return true
	}
	if !p.identities.IsCurrent(id) {
		p.logger.Debug().Uint64("identity", uint64(id)).Str("step", step).Msg("session superseded during capture initialization")
		p.metrics.StaleEvent("capture")
		p.teardown()
		return true
	}
	return false
}

func (p *capturePipeline) fail(id domain.Identity, err error) {
	p.logger.Error().Err(err).Uint64("identity", uint64(id)).Msg("audio capture initialization failed")
	p.teardown()
	p.listener.captureFailed(id, err)
}

// onFrame runs on the device thread.
func (p *capturePipeline) onFrame(samples []float32) {
	if !p.active.Load() {
		p.drop("inactive")
		return
	}
	if !p.sink.Open() {
		p.drop("channel_not_open")
		return
	}
	p.sink.SendFrame(samples)
}

func (p *capturePipeline) drop(reason string) {
	p.metrics.FrameDropped(reason)
	now := time.Now().UnixNano()
	last := p.lastDropWarn.Load()
	if now-last < int64(dropWarnInterval) {
		return
	}
	if p.lastDropWarn.CompareAndSwap(last, now) {
		p.logger.Warn().Str("reason", reason).Msg("dropping audio frames")
	}
}

func (p *capturePipeline) setActive(active bool) {
	p.active.Store(active)
}

func (p *capturePipeline) isActive() bool {
	return p.active.Load()
}

// teardown releases every capture resource that is still held and abandons
// any initialization in flight. It reports whether anything was released.
func (p *capturePipeline) teardown() bool {
	p.epoch++
	p.active.Store(false)
	if p.resources.empty() {
		return false
	}

	r := &p.resources
	if r.stream != nil {
		if err := r.stream.StopTracks(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to stop device tracks")
		}
		r.stream = nil
	}
	// Detach before disconnecting so a straggling device callback finds no
	// handler.
	if r.tap != nil {
		r.tap.SetHandler(nil)
		if err := r.tap.Disconnect(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to disconnect frame tap")
		}
		r.tap = nil
	}
	if r.source != nil {
		if err := r.source.Disconnect(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to disconnect source node")
		}
		r.source = nil
	}
	if r.context != nil {
		capCtx := r.context
		r.context = nil
		if !capCtx.Closed() {
			go p.closeContext(capCtx)
		}
	}

	p.logger.Info().Msg("audio capture released")
	return true
}

func (p *capturePipeline) closeContext(capCtx ports.CaptureContext) {
	if err := capCtx.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to close capture context")
	}
}

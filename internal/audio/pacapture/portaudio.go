// Package pacapture captures the default input device through PortAudio.
// It needs cgo and the portaudio development headers.
package pacapture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"livescribe/internal/audio"
	"livescribe/internal/ports"
)

// Backend opens PortAudio capture contexts. PortAudio reference counts
// Initialize, so every context pairs one Initialize with one Terminate.
type Backend struct {
	logger zerolog.Logger
}

func NewBackend(logger zerolog.Logger) *Backend {
	return &Backend{logger: logger}
}

func (b *Backend) NewContext(_ context.Context, sampleRate int) (ports.CaptureContext, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ports.ErrUnsupportedConfig, sampleRate)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &paContext{sampleRate: sampleRate, logger: b.logger}, nil
}

type paContext struct {
	sampleRate int
	logger     zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *paContext) SampleRate() int {
	return c.sampleRate
}

func (c *paContext) Suspended() bool {
	return false
}

func (c *paContext) Resume(_ context.Context) error {
	return nil
}

func (c *paContext) Closed() bool {
	return c.closed.Load()
}

func (c *paContext) OpenMicrophone(_ context.Context) (ports.DeviceStream, error) {
	if c.closed.Load() {
		return nil, errors.New("capture context is closed")
	}
	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDeviceNotFound, err)
	}
	if device.MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: %s has no input channels", ports.ErrDeviceNotFound, device.Name)
	}
	c.logger.Debug().Str("device", device.Name).Msg("opened input device")
	return &paStream{device: device}, nil
}

func (c *paContext) CreateSource(stream ports.DeviceStream) (ports.SourceNode, error) {
	s, ok := stream.(*paStream)
	if !ok {
		return nil, fmt.Errorf("portaudio context cannot use stream of type %T", stream)
	}
	return &paSource{ctx: c, stream: s}, nil
}

func (c *paContext) CreateFrameTap(n int) (ports.FrameTap, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ports.ErrUnsupportedConfig, n)
	}
	return audio.NewFrameTap(n), nil
}

func (c *paContext) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = portaudio.Terminate()
	})
	return err
}

// paStream owns the open PortAudio stream once a source connects to it.
type paStream struct {
	device *portaudio.DeviceInfo

	mu     sync.Mutex
	stream *portaudio.Stream
}

func (s *paStream) attach(stream *portaudio.Stream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
}

func (s *paStream) StopTracks() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	stopErr := stream.Stop()
	closeErr := stream.Close()
	return errors.Join(stopErr, closeErr)
}

type paSource struct {
	ctx    *paContext
	stream *paStream

	mu        sync.Mutex
	connected bool
}

func (s *paSource) Connect(tap ports.FrameTap) error {
	t, ok := tap.(*audio.FrameTap)
	if !ok {
		return fmt.Errorf("portaudio source cannot feed tap of type %T", tap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return errors.New("source already connected")
	}

	params := portaudio.LowLatencyParameters(s.stream.device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.ctx.sampleRate)
	params.FramesPerBuffer = t.Size()

	// PortAudio reuses the input buffer between callbacks.
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		frame := make([]float32, len(in))
		copy(frame, in)
		t.Deliver(frame)
	})
	if err != nil {
		return classifyStreamErr(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return classifyStreamErr(err)
	}
	s.stream.attach(stream)
	s.connected = true
	return nil
}

func (s *paSource) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func classifyStreamErr(err error) error {
	switch {
	case errors.Is(err, portaudio.InvalidSampleRate), errors.Is(err, portaudio.InvalidChannelCount):
		return fmt.Errorf("%w: %v", ports.ErrUnsupportedConfig, err)
	case errors.Is(err, portaudio.InvalidDevice), errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", ports.ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("failed to open portaudio stream: %w", err)
	}
}

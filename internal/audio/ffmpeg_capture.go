package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/ports"
	"livescribe/internal/protocol"
)

const (
	startupProbe = 250 * time.Millisecond
	killAfter    = 1200 * time.Millisecond
)

// FFMPEGConfig selects the ffmpeg input used for microphone capture.
type FFMPEGConfig struct {
	Command     string
	InputFormat string
	InputDevice string
}

// FFMPEGBackend captures mono float32 PCM from an ffmpeg subprocess.
type FFMPEGBackend struct {
	cfg    FFMPEGConfig
	logger zerolog.Logger
}

func NewFFMPEGBackend(cfg FFMPEGConfig, logger zerolog.Logger) *FFMPEGBackend {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &FFMPEGBackend{cfg: cfg, logger: logger}
}

func (b *FFMPEGBackend) NewContext(_ context.Context, sampleRate int) (ports.CaptureContext, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ports.ErrUnsupportedConfig, sampleRate)
	}
	return &ffmpegContext{backend: b, sampleRate: sampleRate}, nil
}

// ffmpegContext resamples in ffmpeg, so the actual rate always equals the
// requested one.
type ffmpegContext struct {
	backend    *FFMPEGBackend
	sampleRate int
	closed     atomic.Bool
}

func (c *ffmpegContext) SampleRate() int {
	return c.sampleRate
}

func (c *ffmpegContext) Suspended() bool {
	return false
}

func (c *ffmpegContext) Resume(_ context.Context) error {
	return nil
}

func (c *ffmpegContext) Closed() bool {
	return c.closed.Load()
}

func (c *ffmpegContext) CreateFrameTap(n int) (ports.FrameTap, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ports.ErrUnsupportedConfig, n)
	}
	return NewFrameTap(n), nil
}

func (c *ffmpegContext) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *ffmpegContext) OpenMicrophone(ctx context.Context) (ports.DeviceStream, error) {
	if c.closed.Load() {
		return nil, errors.New("capture context is closed")
	}
	cfg := c.backend.cfg

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(c.sampleRate),
		"-f", "f32le",
		"-",
	}

	// The process must outlive the request context; it is stopped by StopTracks.
	cmd := exec.Command(cfg.Command, args...)
	var stderr lockedBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return nil, classifyStartErr(fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail), detail)
		}
		return nil, classifyStartErr(errors.New("ffmpeg exited before capture started"), detail)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(startupProbe):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		logger:  c.backend.logger,
	}, nil
}

func (c *ffmpegContext) CreateSource(stream ports.DeviceStream) (ports.SourceNode, error) {
	s, ok := stream.(*ffmpegStream)
	if !ok {
		return nil, fmt.Errorf("ffmpeg context cannot use stream of type %T", stream)
	}
	return &ffmpegSource{stream: s, stop: make(chan struct{})}, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	waitErr <-chan error
	logger  zerolog.Logger

	stopOnce sync.Once
}

// StopTracks interrupts ffmpeg and returns immediately; a reaper escalates to
// kill if the process does not exit in time.
func (s *ffmpegStream) StopTracks() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		go s.reap()
	})
	return nil
}

func (s *ffmpegStream) reap() {
	var err error
	select {
	case err = <-s.waitErr:
	case <-time.After(killAfter):
		if s.process != nil {
			_ = s.process.Kill()
		}
		err = <-s.waitErr
	}

	if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = closeErr
	}
	if err = normalizeStopErr(err); err != nil {
		s.logger.Warn().Err(err).Str("stderr", stringsTrimSpaceSafe(s.stderr.String())).Msg("ffmpeg did not stop cleanly")
	}
}

type ffmpegSource struct {
	stream *ffmpegStream

	mu        sync.Mutex
	connected bool
	stop      chan struct{}
	stopOnce  sync.Once
}

func (s *ffmpegSource) Connect(tap ports.FrameTap) error {
	t, ok := tap.(*FrameTap)
	if !ok {
		return fmt.Errorf("ffmpeg source cannot feed tap of type %T", tap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return errors.New("source already connected")
	}
	s.connected = true
	go s.pump(t)
	return nil
}

func (s *ffmpegSource) pump(tap *FrameTap) {
	buf := make([]byte, tap.Size()*4)
	for {
		if _, err := io.ReadFull(s.stream.stdout, buf); err != nil {
			return
		}
		select {
		case <-s.stop:
			return
		default:
		}
		tap.Deliver(protocol.DecodeFrameInto(make([]float32, tap.Size()), buf))
	}
}

func (s *ffmpegSource) Disconnect() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func classifyStartErr(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied"):
		return fmt.Errorf("%w: %v", ports.ErrPermissionDenied, err)
	case strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "no such device") ||
		strings.Contains(lower, "no such process") ||
		strings.Contains(lower, "connection refused"):
		return fmt.Errorf("%w: %v", ports.ErrDeviceNotFound, err)
	case strings.Contains(lower, "sample rate") || strings.Contains(lower, "not supported"):
		return fmt.Errorf("%w: %v", ports.ErrUnsupportedConfig, err)
	default:
		return err
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer is written by the exec copier goroutine and read on errors.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

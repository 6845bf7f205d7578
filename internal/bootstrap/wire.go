package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"livescribe/internal/audio"
	"livescribe/internal/audio/pacapture"
	"livescribe/internal/config"
	"livescribe/internal/eventloop"
	"livescribe/internal/observability"
	"livescribe/internal/ports"
	"livescribe/internal/transport/wsconn"
	"livescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Scope      *usecase.HostScope
	Config     config.Config
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink)
}

// BuildWithConfig wires the runtime graph from an already resolved config.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	if err := cfg.Validate(); err != nil {
		return Services{}, err
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	metrics := observability.NewMetrics()

	backend, err := captureBackend(cfg.Audio, logger)
	if err != nil {
		return Services{}, err
	}

	transport := wsconn.NewTransport(wsconn.Config{DialTimeout: cfg.Transport.DialTimeout})

	loop := eventloop.New()
	loop.Start(context.Background())

	controller := usecase.NewSessionController(
		loop,
		usecase.NewIdentities(),
		backend,
		transport,
		eventSink,
		logger,
		metrics,
		usecase.Config{
			Endpoint:     cfg.Transport.URL,
			SampleRate:   cfg.Audio.SampleRate,
			FrameSize:    cfg.Audio.BufferSize,
			CloseGrace:   cfg.Session.CloseGrace,
			CleanupGrace: cfg.Session.CleanupGrace,
		},
	)
	scope := usecase.NewHostScope(
		controller,
		observability.Component(logger, "host"),
		cfg.Session.RemountWindow,
	)

	logger.Info().
		Str("endpoint", cfg.Transport.URL).
		Str("capture_backend", cfg.Audio.Backend).
		Int("sample_rate", cfg.Audio.SampleRate).
		Int("buffer_size", cfg.Audio.BufferSize).
		Msg("runtime assembled")

	return Services{
		Controller: controller,
		Scope:      scope,
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
	}, nil
}

func captureBackend(cfg config.AudioConfig, logger zerolog.Logger) (ports.CaptureBackend, error) {
	captureLog := observability.Component(logger, "device")
	switch cfg.Backend {
	case "ffmpeg":
		return audio.NewFFMPEGBackend(audio.FFMPEGConfig{
			Command:     cfg.FFmpegCommand,
			InputFormat: cfg.InputFormat,
			InputDevice: cfg.InputDevice,
		}, captureLog), nil
	case "portaudio":
		return pacapture.NewBackend(captureLog), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}

package bootstrap

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"livescribe/internal/audio"
	"livescribe/internal/audio/pacapture"
	"livescribe/internal/config"
	"livescribe/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	t.Setenv("LIVESCRIBE_WEBSOCKET_URL", "ws://127.0.0.1:1/stream")
	t.Setenv("LIVESCRIBE_LOG_LEVEL", "disabled")

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil || services.Scope == nil {
		t.Fatalf("expected controller and host scope")
	}
	if services.Config.Transport.URL != "ws://127.0.0.1:1/stream" {
		t.Fatalf("unexpected endpoint: %q", services.Config.Transport.URL)
	}
	if got := services.Controller.Status().State; got != domain.SessionStateInactive {
		t.Fatalf("expected inactive controller, got %s", got)
	}

	if err := services.Scope.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
}

func TestBuildFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("LIVESCRIBE_WEBSOCKET_URL", "http://example.com")

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to non-websocket url")
	}
}

func TestBuildWithConfigRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Audio.Backend = "jack"
	if _, err := BuildWithConfig(cfg, noopEventSink{}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestCaptureBackendSelection(t *testing.T) {
	t.Parallel()

	cfg := validConfig().Audio
	backend, err := captureBackend(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("ffmpeg backend failed: %v", err)
	}
	if _, ok := backend.(*audio.FFMPEGBackend); !ok {
		t.Fatalf("expected ffmpeg backend, got %T", backend)
	}

	cfg.Backend = "portaudio"
	backend, err = captureBackend(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("portaudio backend failed: %v", err)
	}
	if _, ok := backend.(*pacapture.Backend); !ok {
		t.Fatalf("expected portaudio backend, got %T", backend)
	}

	cfg.Backend = "oss"
	if _, err := captureBackend(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func validConfig() config.Config {
	return config.Config{
		Transport: config.TransportConfig{URL: "ws://localhost:8081"},
		Audio: config.AudioConfig{
			Backend:       "ffmpeg",
			SampleRate:    48000,
			BufferSize:    2048,
			FFmpegCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
		},
		Log: config.LogConfig{Level: "disabled"},
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ bool) {}
func (noopEventSink) TranscriptChanged(_, _ string)                     {}
func (noopEventSink) SessionError(_ domain.ErrorKind, _ string)         {}
func (noopEventSink) ErrorCleared()                                     {}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transport.URL != "ws://localhost:8081" || cfg.Transport.DialTimeout != 10*time.Second {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Audio.Backend != "ffmpeg" || cfg.Audio.SampleRate != 48000 || cfg.Audio.BufferSize != 2048 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.FFmpegCommand != "ffmpeg" || cfg.Audio.InputFormat != "pulse" || cfg.Audio.InputDevice != "default" {
		t.Fatalf("unexpected ffmpeg config: %+v", cfg.Audio)
	}
	if cfg.Session.CloseGrace != 50*time.Millisecond || cfg.Session.CleanupGrace != 100*time.Millisecond {
		t.Fatalf("unexpected session grace: %+v", cfg.Session)
	}
	if cfg.Session.RemountWindow != 500*time.Millisecond {
		t.Fatalf("unexpected remount window: %s", cfg.Session.RemountWindow)
	}
	if cfg.Log.Level != "info" || cfg.Log.Pretty || cfg.Metrics.Addr != "" {
		t.Fatalf("unexpected observability config: %+v %+v", cfg.Log, cfg.Metrics)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIVESCRIBE_WEBSOCKET_URL", "wss://asr.example.com/stream")
	t.Setenv("LIVESCRIBE_DIAL_TIMEOUT", "3s")
	t.Setenv("LIVESCRIBE_CAPTURE_BACKEND", " PortAudio ")
	t.Setenv("LIVESCRIBE_SAMPLE_RATE", "16000")
	t.Setenv("LIVESCRIBE_BUFFER_SIZE", "4096")
	t.Setenv("LIVESCRIBE_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("LIVESCRIBE_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("LIVESCRIBE_AUDIO_INPUT_DEVICE", "hw:1")
	t.Setenv("LIVESCRIBE_CLOSE_GRACE", "20ms")
	t.Setenv("LIVESCRIBE_CLEANUP_GRACE", "250ms")
	t.Setenv("LIVESCRIBE_REMOUNT_WINDOW", "1s")
	t.Setenv("LIVESCRIBE_LOG_LEVEL", "debug")
	t.Setenv("LIVESCRIBE_LOG_PRETTY", "true")
	t.Setenv("LIVESCRIBE_METRICS_ADDR", "127.0.0.1:9100")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Transport.URL != "wss://asr.example.com/stream" || cfg.Transport.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Audio.Backend != "portaudio" || cfg.Audio.SampleRate != 16000 || cfg.Audio.BufferSize != 4096 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.FFmpegCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "hw:1" {
		t.Fatalf("unexpected ffmpeg config: %+v", cfg.Audio)
	}
	if cfg.Session.CloseGrace != 20*time.Millisecond || cfg.Session.CleanupGrace != 250*time.Millisecond || cfg.Session.RemountWindow != time.Second {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty || cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Fatalf("unexpected observability config: %+v %+v", cfg.Log, cfg.Metrics)
	}
}

func TestLoadFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"scheme":       {"LIVESCRIBE_WEBSOCKET_URL", "http://localhost:8081"},
		"no host":      {"LIVESCRIBE_WEBSOCKET_URL", "ws://"},
		"backend":      {"LIVESCRIBE_CAPTURE_BACKEND", "oss"},
		"sample rate":  {"LIVESCRIBE_SAMPLE_RATE", "100"},
		"buffer pow2":  {"LIVESCRIBE_BUFFER_SIZE", "3000"},
		"buffer small": {"LIVESCRIBE_BUFFER_SIZE", "128"},
		"not a number": {"LIVESCRIBE_SAMPLE_RATE", "fast"},
		"negative":     {"LIVESCRIBE_CLOSE_GRACE", "-1s"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LIVESCRIBE_SAMPLE_RATE=22050\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() { _ = os.Unsetenv("LIVESCRIBE_SAMPLE_RATE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 22050 {
		t.Fatalf("expected .env sample rate, got %d", cfg.Audio.SampleRate)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix+"_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}

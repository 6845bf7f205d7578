package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LIVESCRIBE"

// Config stores runtime configuration. Values are fixed when the session
// controller is constructed.
type Config struct {
	Transport TransportConfig
	Audio     AudioConfig
	Session   SessionConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type TransportConfig struct {
	URL         string        `envconfig:"WEBSOCKET_URL" default:"ws://localhost:8081"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
}

type AudioConfig struct {
	Backend       string `envconfig:"CAPTURE_BACKEND" default:"ffmpeg"`
	SampleRate    int    `envconfig:"SAMPLE_RATE" default:"48000"`
	BufferSize    int    `envconfig:"BUFFER_SIZE" default:"2048"`
	FFmpegCommand string `envconfig:"FFMPEG_COMMAND" default:"ffmpeg"`
	InputFormat   string `envconfig:"AUDIO_INPUT_FORMAT" default:"pulse"`
	InputDevice   string `envconfig:"AUDIO_INPUT_DEVICE" default:"default"`
}

type SessionConfig struct {
	CloseGrace    time.Duration `envconfig:"CLOSE_GRACE" default:"50ms"`
	CleanupGrace  time.Duration `envconfig:"CLEANUP_GRACE" default:"100ms"`
	RemountWindow time.Duration `envconfig:"REMOUNT_WINDOW" default:"500ms"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:""`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv resolves configuration from environment variables only.
func LoadFromEnv() (Config, error) {
	var cfg Config
	sections := []struct {
		name   string
		target any
	}{
		{"transport", &cfg.Transport},
		{"audio", &cfg.Audio},
		{"session", &cfg.Session},
		{"log", &cfg.Log},
		{"metrics", &cfg.Metrics},
	}
	for _, section := range sections {
		if err := envconfig.Process(envPrefix, section.target); err != nil {
			return Config{}, fmt.Errorf("failed to load %s config: %w", section.name, err)
		}
	}

	cfg.Audio.Backend = strings.ToLower(strings.TrimSpace(cfg.Audio.Backend))
	cfg.Audio.FFmpegCommand = firstNonEmpty(cfg.Audio.FFmpegCommand, "ffmpeg")
	cfg.Audio.InputFormat = firstNonEmpty(cfg.Audio.InputFormat, "pulse")
	cfg.Audio.InputDevice = firstNonEmpty(cfg.Audio.InputDevice, "default")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no session could run with.
func (c Config) Validate() error {
	endpoint, err := url.Parse(strings.TrimSpace(c.Transport.URL))
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss, got %q", c.Transport.URL)
	}
	if endpoint.Host == "" {
		return errors.New("websocket url has no host")
	}

	switch c.Audio.Backend {
	case "ffmpeg", "portaudio":
	default:
		return fmt.Errorf("unknown capture backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("sample rate %d out of range", c.Audio.SampleRate)
	}
	if !validBufferSize(c.Audio.BufferSize) {
		return fmt.Errorf("buffer size %d must be a power of two between 256 and 16384", c.Audio.BufferSize)
	}

	if c.Session.CloseGrace < 0 || c.Session.CleanupGrace < 0 || c.Session.RemountWindow < 0 {
		return errors.New("session grace durations must not be negative")
	}
	return nil
}

func validBufferSize(n int) bool {
	return n >= 256 && n <= 16384 && n&(n-1) == 0
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the translation service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"voxlate"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Speech capability backends.
	SpeechProvider  string `env:"SPEECH_PROVIDER" envDefault:"auto"`
	TranscriberURL  string `env:"TRANSCRIBER_URL"`
	TranslatorURL   string `env:"TRANSLATOR_URL"`
	SynthesizerURL  string `env:"SYNTHESIZER_URL"`
	SpeechAPIKey    string `env:"SPEECH_API_KEY"`
	DefaultLanguage string `env:"DEFAULT_SOURCE_LANGUAGE" envDefault:"en"`

	// Realtime audio buffering.
	SampleRate        int           `env:"AUDIO_SAMPLE_RATE" envDefault:"16000"`
	MaxBufferDuration time.Duration `env:"AUDIO_MAX_BUFFER_DURATION" envDefault:"5s"`
	VADAggressiveness int           `env:"VAD_AGGRESSIVENESS" envDefault:"2"`
	VADSilenceFrames  int           `env:"VAD_SILENCE_FRAMES" envDefault:"10"`

	// Connection admission control.
	MaxConnectionsPerIP int           `env:"WS_MAX_CONNECTIONS_PER_IP" envDefault:"5"`
	ConnectionCountTTL  time.Duration `env:"WS_CONNECTION_COUNT_TTL" envDefault:"1h"`

	// Async job processing.
	JobWorkers        int           `env:"JOB_WORKERS" envDefault:"2"`
	JobQueueSize      int           `env:"JOB_QUEUE_SIZE" envDefault:"64"`
	MaxUploadBytes    int64         `env:"JOB_MAX_UPLOAD_BYTES" envDefault:"26214400"`
	MaxUploadDuration time.Duration `env:"JOB_MAX_UPLOAD_DURATION" envDefault:"10m"`
	JobRetryMax       int           `env:"JOB_RETRY_MAX" envDefault:"3"`
	JobRetryBase      time.Duration `env:"JOB_RETRY_BASE" envDefault:"2s"`
}

var supportedSampleRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// Load reads environment variables and validates the resulting configuration.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !supportedSampleRates[c.SampleRate] {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be 8000, 16000, 32000 or 48000, got %d", c.SampleRate)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("VAD_AGGRESSIVENESS must be 0-3, got %d", c.VADAggressiveness)
	}
	if c.VADSilenceFrames <= 0 {
		return fmt.Errorf("VAD_SILENCE_FRAMES must be positive, got %d", c.VADSilenceFrames)
	}
	if c.MaxBufferDuration < time.Second {
		return fmt.Errorf("AUDIO_MAX_BUFFER_DURATION must be at least 1s")
	}
	if c.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS_PER_IP must be positive, got %d", c.MaxConnectionsPerIP)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.JobWorkers)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("JOB_MAX_UPLOAD_BYTES must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.SpeechProvider)) {
	case "auto", "http", "mock":
	default:
		return fmt.Errorf("SPEECH_PROVIDER must be auto, http or mock, got %q", c.SpeechProvider)
	}
	if strings.EqualFold(c.SpeechProvider, "http") {
		if c.TranscriberURL == "" || c.TranslatorURL == "" || c.SynthesizerURL == "" {
			return fmt.Errorf("SPEECH_PROVIDER=http requires TRANSCRIBER_URL, TRANSLATOR_URL and SYNTHESIZER_URL")
		}
	}
	return nil
}

// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/uniqualizer/internal/fault"
)

// Static errors for configuration validation. All of them match
// fault.ErrConfiguration.
var (
	// ErrTelegramTokenRequired is returned when TELEGRAM_BOT_TOKEN is not set.
	ErrTelegramTokenRequired = fmt.Errorf("config: TELEGRAM_BOT_TOKEN is required: %w", fault.ErrConfiguration)
	// ErrInvalidSpeedFactor is returned when SPEED_FACTOR is outside (0, 100].
	ErrInvalidSpeedFactor = fmt.Errorf("config: SPEED_FACTOR must be in (0, 100]: %w", fault.ErrConfiguration)
	// ErrInvalidLimit is returned when a concurrency or size limit is not positive.
	ErrInvalidLimit = fmt.Errorf("config: limits must be positive: %w", fault.ErrConfiguration)
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Telegram settings
	TelegramToken    string   `env:"TELEGRAM_BOT_TOKEN, required" json:"-"` // Masked in JSON
	AllowFrom        []string `env:"ALLOW_FROM" json:"allow_from,omitempty"`
	MaxDownloadBytes int64    `env:"MAX_DOWNLOAD_BYTES, default=20971520" json:"max_download_bytes"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/uniqualizer" json:"temp_dir"`

	// Video settings
	FFmpegPath              string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath             string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	SpeedFactor             float64       `env:"SPEED_FACTOR, default=0.8" json:"speed_factor"`
	VideoCodec              string        `env:"VIDEO_CODEC, default=libx264" json:"video_codec"`
	AudioCodec              string        `env:"AUDIO_CODEC, default=aac" json:"audio_codec"` // empty disables audio
	EncodingPreset          string        `env:"ENCODING_PRESET, default=ultrafast" json:"encoding_preset"`
	EncodeThreads           int           `env:"ENCODE_THREADS, default=1" json:"encode_threads"`
	TranscodeTimeout        time.Duration `env:"TRANSCODE_TIMEOUT, default=5m" json:"transcode_timeout"`
	MaxConcurrentTranscodes int           `env:"MAX_CONCURRENT_TRANSCODES, default=2" json:"max_concurrent_transcodes"`

	// Photo settings
	BlurRadius          float64 `env:"BLUR_RADIUS, default=2" json:"blur_radius"`
	JPEGQuality         int     `env:"JPEG_QUALITY, default=75" json:"jpeg_quality"`
	MaxConcurrentPhotos int     `env:"MAX_CONCURRENT_PHOTOS, default=2" json:"max_concurrent_photos"`

	// Dispatch settings
	MaxConcurrentEvents int `env:"MAX_CONCURRENT_EVENTS, default=8" json:"max_concurrent_events"`
	JobHistorySize      int `env:"JOB_HISTORY_SIZE, default=1000" json:"job_history_size"`

	// Optional S3 archive settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// TELEGRAM_BOT_TOKEN is the only required key.
		if errors.Is(err, envconfig.ErrMissingRequired) {
			return nil, ErrTelegramTokenRequired
		}
		return nil, fmt.Errorf("config: %w", errors.Join(err, fault.ErrConfiguration))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return ErrTelegramTokenRequired
	}
	if !(c.SpeedFactor > 0 && c.SpeedFactor <= 100) {
		return ErrInvalidSpeedFactor
	}
	if c.EncodeThreads < 1 || c.MaxConcurrentTranscodes < 1 || c.MaxConcurrentEvents < 1 ||
		c.MaxConcurrentPhotos < 1 || c.MaxDownloadBytes < 1 {
		return ErrInvalidLimit
	}
	if c.TranscodeTimeout < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, SpeedFactor: %g, VideoCodec: %s, AudioCodec: %s, Preset: %s, Threads: %d, "+
			"TranscodeTimeout: %s, MaxConcurrentTranscodes: %d, MaxConcurrentEvents: %d, AllowFrom: %d senders, "+
			"S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.SpeedFactor,
		c.VideoCodec,
		c.AudioCodec,
		c.EncodingPreset,
		c.EncodeThreads,
		c.TranscodeTimeout,
		c.MaxConcurrentTranscodes,
		c.MaxConcurrentEvents,
		len(c.AllowFrom),
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

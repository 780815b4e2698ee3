// Package bootstrap provides dependency initialization for the bot.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/maauso/uniqualizer/internal/config"
	"github.com/maauso/uniqualizer/internal/dispatch"
	"github.com/maauso/uniqualizer/internal/job"
	"github.com/maauso/uniqualizer/internal/media"
	"github.com/maauso/uniqualizer/internal/photo"
	"github.com/maauso/uniqualizer/internal/server"
	"github.com/maauso/uniqualizer/internal/storage"
	"github.com/maauso/uniqualizer/internal/telegram"
)

// TextHeader is the first line of every text reply.
const TextHeader = "Unique text:"

// Dependencies holds all initialized dependencies for the process.
type Dependencies struct {
	Store      *storage.LocalStorage
	Jobs       *job.MemoryRepository
	Pipeline   *media.Pipeline
	Dispatcher *dispatch.Dispatcher
	Telegram   *telegram.Adapter
	Handlers   *server.Handlers
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", store.TempDir()),
	)

	checkBinary(logger, "ffmpeg", cfg.FFmpegPath)
	checkBinary(logger, "ffprobe", cfg.FFprobePath)

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	transcoder := media.NewFFmpegTranscoder(processor, processor, store, logger)
	pipeline := media.NewPipeline(store, transcoder, logger,
		media.WithPolicy(TranscodePolicy(cfg)),
		media.WithMaxConcurrent(cfg.MaxConcurrentTranscodes),
	)

	photos := photo.NewTransformer(logger,
		photo.WithBlurRadius(cfg.BlurRadius),
		photo.WithQuality(cfg.JPEGQuality),
		photo.WithMaxConcurrent(cfg.MaxConcurrentPhotos),
	)

	tg, err := telegram.New(cfg.TelegramToken, logger,
		telegram.WithAllowFrom(cfg.AllowFrom),
		telegram.WithMaxDownloadBytes(cfg.MaxDownloadBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram adapter: %w", err)
	}

	repo := job.NewMemoryRepository(cfg.JobHistorySize)

	dispatchOpts := []dispatch.Option{
		dispatch.WithTextHeader(TextHeader),
		dispatch.WithMaxConcurrent(cfg.MaxConcurrentEvents),
	}
	archive, err := initArchive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithArchive(archive))
	}

	dispatcher := dispatch.New(tg, photos, pipeline, repo, logger, dispatchOpts...)

	// Base64 adds a third to the payload, plus room for the JSON envelope.
	maxBody := cfg.MaxDownloadBytes*4/3 + 64<<10
	handlers := server.NewHandlers(dispatcher, repo, logger, server.WithMaxBodyBytes(maxBody))

	return &Dependencies{
		Store:      store,
		Jobs:       repo,
		Pipeline:   pipeline,
		Dispatcher: dispatcher,
		Telegram:   tg,
		Handlers:   handlers,
	}, nil
}

// TranscodePolicy maps the video settings onto a transcode policy.
func TranscodePolicy(cfg *config.Config) media.Policy {
	return media.Policy{
		SpeedFactor: cfg.SpeedFactor,
		VideoCodec:  cfg.VideoCodec,
		AudioCodec:  cfg.AudioCodec,
		Preset:      cfg.EncodingPreset,
		Threads:     cfg.EncodeThreads,
		Timeout:     cfg.TranscodeTimeout,
	}
}

// initArchive creates the S3 archive when configured. It returns nil when
// archiving is disabled.
func initArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Archive, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}

	archive, err := storage.NewS3Archive(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 archive: %w", err)
	}
	logger.Info("S3 archive configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return archive, nil
}

// checkBinary warns when an external tool is missing. Video requests fail
// until it is installed, other transforms keep working.
func checkBinary(logger *slog.Logger, name, path string) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		logger.Warn("external tool not found", slog.String("tool", name), slog.String("path", path))
		return
	}
	logger.Debug("external tool found", slog.String("tool", name), slog.String("path", resolved))
}

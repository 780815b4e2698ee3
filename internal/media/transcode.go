package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/uniqualizer/internal/fault"
	"github.com/maauso/uniqualizer/internal/storage"
)

const (
	// MinOutputBytes is the smallest output accepted as a real encode.
	// Smaller files are treated as silent corruption even when ffmpeg exits 0.
	MinOutputBytes = 1024

	// stderrTailBytes bounds how much ffmpeg stderr ends up in error details.
	stderrTailBytes = 512
)

// ErrInvalidRequest is returned when a Request fails validation.
var ErrInvalidRequest = errors.New("invalid transcode request")

// Request describes one transcode. It is built once per video and not modified.
type Request struct {
	// Source is the staged input video.
	Source *storage.Artifact `validate:"required"`
	// SpeedFactor resamples the timeline by 1/SpeedFactor. Values below 1 slow playback.
	SpeedFactor float64 `validate:"gt=0,lte=100"`
	// VideoCodec is the ffmpeg video encoder name, e.g. "libx264".
	VideoCodec string `validate:"required"`
	// AudioCodec is the ffmpeg audio encoder name. Empty disables audio.
	AudioCodec string
	// Preset is the encoder preset, e.g. "ultrafast".
	Preset string `validate:"required"`
	// Threads caps encoder threads.
	Threads int `validate:"gte=1"`
	// Timeout bounds the encode process. Zero means no timeout.
	Timeout time.Duration `validate:"gte=0"`
}

// Result is a successful transcode. The caller owns Output and must release it.
type Result struct {
	// Output is the encoded video.
	Output *storage.Artifact
	// SizeBytes is the size of Output, always >= MinOutputBytes.
	SizeBytes int64
	// SourceDuration is the probed duration of the source in seconds, zero if unknown.
	SourceDuration float64
	// Elapsed is the wall time of the whole transcode.
	Elapsed time.Duration
}

// Transcoder converts a staged video according to a Request.
type Transcoder interface {
	// Transcode returns a Result or a *fault.Error. On error no output
	// artifact is left behind.
	Transcode(ctx context.Context, req Request) (*Result, error)
}

// Compile-time check that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// FFmpegTranscoder implements Transcoder with a Prober and an Encoder.
type FFmpegTranscoder struct {
	prober    Prober
	encoder   Encoder
	store     storage.Store
	validate  *validator.Validate
	logger    *slog.Logger
	minOutput int64
}

// TranscoderOption configures an FFmpegTranscoder.
type TranscoderOption func(*FFmpegTranscoder)

// WithMinOutputBytes overrides the output size floor.
func WithMinOutputBytes(n int64) TranscoderOption {
	return func(t *FFmpegTranscoder) {
		if n > 0 {
			t.minOutput = n
		}
	}
}

// NewFFmpegTranscoder creates a transcoder that stages outputs in store.
func NewFFmpegTranscoder(prober Prober, encoder Encoder, store storage.Store, logger *slog.Logger, opts ...TranscoderOption) *FFmpegTranscoder {
	if logger == nil {
		logger = slog.Default()
	}
	t := &FFmpegTranscoder{
		prober:    prober,
		encoder:   encoder,
		store:     store,
		validate:  validator.New(),
		logger:    logger.With("component", "transcoder"),
		minOutput: MinOutputBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode probes the source, applies the speed filter, encodes and
// validates the output size.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, req Request) (res *Result, err error) {
	if err := t.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	logger := t.logger.With(slog.String("source", req.Source.Path()))
	stages := newStageTracker(logger)
	defer func() {
		if err != nil {
			failedIn := stages.fail()
			logger.Warn("transcode failed",
				slog.String("stage", string(failedIn)),
				slog.String("kind", string(fault.KindOf(err))),
				slog.String("error", err.Error()),
			)
		}
	}()

	// Decoding
	if err := stages.advance(StageDecoding); err != nil {
		return nil, err
	}
	info, err := t.open(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	// Filtering
	if err := stages.advance(StageFiltering); err != nil {
		return nil, err
	}
	withAudio := req.AudioCodec != "" && info.HasAudio

	// Encoding
	if err := stages.advance(StageEncoding); err != nil {
		return nil, err
	}
	out, err := t.store.Acquire(ctx, ".mp4")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if relErr := t.store.Release(out); relErr != nil {
				logger.Error("failed to release output artifact",
					slog.String("path", out.Path()),
					slog.String("error", relErr.Error()),
				)
			}
		}
	}()

	if err := t.encode(ctx, req, out, withAudio); err != nil {
		return nil, err
	}

	// Validating
	if err := stages.advance(StageValidating); err != nil {
		return nil, err
	}
	size, err := out.Size()
	if err != nil {
		return nil, err
	}
	if size < t.minOutput {
		return nil, fault.New(fault.KindEncodingTooSmall, "validate output",
			fmt.Sprintf("output is %d bytes, minimum is %d", size, t.minOutput), nil)
	}

	if err := stages.advance(StageDone); err != nil {
		return nil, err
	}

	res = &Result{
		Output:         out,
		SizeBytes:      size,
		SourceDuration: info.Duration,
		Elapsed:        time.Since(start),
	}
	logger.Info("transcode completed",
		slog.Int64("size_bytes", size),
		slog.Float64("source_duration_sec", info.Duration),
		slog.Float64("speed_factor", req.SpeedFactor),
		slog.Bool("audio", withAudio),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// open checks that the source is a decodable video.
func (t *FFmpegTranscoder) open(ctx context.Context, src *storage.Artifact) (*ProbeInfo, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fault.New(fault.KindDecode, "open source", "zero-length input", nil)
	}

	info, err := t.prober.Probe(ctx, src.Path())
	if err != nil {
		return nil, fault.New(fault.KindDecode, "open source", "ffprobe could not open the container", err)
	}
	if !info.HasVideo {
		return nil, fault.New(fault.KindDecode, "open source", "no video stream", nil)
	}
	return info, nil
}

// encode runs the external process under the request timeout.
func (t *FFmpegTranscoder) encode(ctx context.Context, req Request, out *storage.Artifact, withAudio bool) error {
	encCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		encCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	err := t.encoder.Encode(encCtx, BuildEncodeArgs(req, out.Path(), withAudio))
	if err == nil {
		return nil
	}

	var ffErr *FFmpegError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fault.New(fault.KindExternalProcess, "encode", fmt.Sprintf("timed out after %s", req.Timeout), err)
	case errors.Is(err, context.Canceled):
		return fault.New(fault.KindExternalProcess, "encode", "cancelled", err)
	case errors.As(err, &ffErr):
		return fault.New(fault.KindExternalProcess, "encode",
			fmt.Sprintf("exit code %d: %s", ffErr.ExitCode(), ffErr.StderrTail(stderrTailBytes)), err)
	default:
		return fault.New(fault.KindExternalProcess, "encode", "could not run encoder", err)
	}
}

// BuildEncodeArgs returns the ffmpeg arguments for req writing to dst.
func BuildEncodeArgs(req Request, dst string, withAudio bool) []string {
	factor := formatFactor(req.SpeedFactor)

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y", // Overwrite the pre-created output artifact
		"-i", req.Source.Path(),
		"-map", "0:v:0",
		"-filter:v", "setpts=PTS/" + factor, // Resample the timeline by 1/factor
		"-c:v", req.VideoCodec,
		"-preset", req.Preset,
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
	}

	if withAudio {
		args = append(args,
			"-map", "0:a:0",
			"-filter:a", atempoChain(req.SpeedFactor),
			"-c:a", req.AudioCodec,
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-threads", strconv.Itoa(req.Threads),
		"-movflags", "+faststart",
		"-f", "mp4",
		dst,
	)
	return args
}

// atempoChain builds an audio filter equal to factor. A single atempo
// instance only accepts 0.5..2.0, so larger changes are chained.
func atempoChain(factor float64) string {
	var parts []string
	for factor < 0.5 {
		parts = append(parts, "atempo=0.5")
		factor /= 0.5
	}
	for factor > 2.0 {
		parts = append(parts, "atempo=2.0")
		factor /= 2.0
	}
	parts = append(parts, "atempo="+formatFactor(factor))
	return strings.Join(parts, ",")
}

func formatFactor(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

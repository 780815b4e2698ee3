// Package photo blurs still images and re-encodes them as metadata-free JPEG.
package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/evanoberholster/imagemeta"
	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/sync/semaphore"

	"github.com/maauso/uniqualizer/internal/fault"
)

const (
	// DefaultBlurRadius is a light obfuscation, not a quality filter.
	DefaultBlurRadius = 2.0
	// DefaultQuality is the JPEG output quality.
	DefaultQuality = 75
	// MaxPixels bounds decoded image size. Decode, blur and rebuild each hold
	// a full 4-byte-per-pixel copy.
	MaxPixels = 16 << 20
	// DefaultMaxConcurrent caps images held in memory at once.
	DefaultMaxConcurrent = 2
)

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image")

// Transformer applies blur and metadata stripping to images.
type Transformer struct {
	radius  float64
	quality int
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithBlurRadius sets the Gaussian blur radius. Non-positive values are ignored.
func WithBlurRadius(r float64) Option {
	return func(t *Transformer) {
		if r > 0 {
			t.radius = r
		}
	}
}

// WithQuality sets the JPEG quality (1-100). Out of range values are ignored.
func WithQuality(q int) Option {
	return func(t *Transformer) {
		if q >= 1 && q <= 100 {
			t.quality = q
		}
	}
}

// WithMaxConcurrent sets how many images are decoded at once. Non-positive
// values are ignored.
func WithMaxConcurrent(n int) Option {
	return func(t *Transformer) {
		if n > 0 {
			t.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewTransformer creates a Transformer.
func NewTransformer(logger *slog.Logger, opts ...Option) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transformer{
		radius:  DefaultBlurRadius,
		quality: DefaultQuality,
		sem:     semaphore.NewWeighted(DefaultMaxConcurrent),
		logger:  logger.With("component", "photo"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform decodes data, blurs it, rebuilds the pixels on a fresh canvas
// and encodes the result as JPEG. The output never carries the source's
// EXIF, ICC or XMP blocks. Undecodable input fails with fault.ErrDecode.
func (t *Transformer) Transform(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fault.New(fault.KindDecode, "decode image", "zero-length input", ErrEmptyImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fault.New(fault.KindDecode, "decode image", "unrecognized image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, fault.New(fault.KindDecode, "decode image",
			fmt.Sprintf("unsupported dimensions %dx%d", cfg.Width, cfg.Height), nil)
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire decode slot: %w", err)
	}
	defer t.sem.Release(1)

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fault.New(fault.KindDecode, "decode image", format, err)
	}

	if hasMetadata(data) {
		t.logger.Debug("discarding embedded image metadata", slog.String("format", format))
	}

	blurred := imaging.Blur(src, t.radius)
	clean := rebuild(blurred)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, clean, &jpeg.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	t.logger.Debug("image transformed",
		slog.String("format", format),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Int("input_bytes", len(data)),
		slog.Int("output_bytes", out.Len()),
	)

	return out.Bytes(), nil
}

// rebuild copies the pixels onto a new opaque canvas anchored at the origin.
// Transparent areas are flattened onto white since JPEG has no alpha.
func rebuild(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// hasMetadata reports whether data carries a readable EXIF block.
func hasMetadata(data []byte) bool {
	e, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return e.Make != "" || e.Model != "" || !e.DateTimeOriginal().IsZero()
}

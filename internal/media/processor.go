// Package media runs the video transcoding pipeline: it probes an uploaded
// video, resamples its timeline by a speed factor and re-encodes it through
// an external ffmpeg process, then validates the produced container.
package media

import "context"

// ProbeInfo describes the streams found in a media file.
type ProbeInfo struct {
	// Format is the container format name reported by ffprobe.
	Format string
	// Duration is the container duration in seconds. Zero if unknown.
	Duration float64
	// HasVideo is true when at least one video stream is present.
	HasVideo bool
	// HasAudio is true when at least one audio stream is present.
	HasAudio bool
	// VideoCodec is the codec of the first video stream.
	VideoCodec string
	// Width and Height are the dimensions of the first video stream.
	Width  int
	Height int
}

// Prober inspects media files.
type Prober interface {
	// Probe opens path as a media stream and reports its layout.
	Probe(ctx context.Context, path string) (*ProbeInfo, error)
}

// Encoder runs the external encode process.
type Encoder interface {
	// Encode runs one encode with the given arguments. It returns an
	// *FFmpegError when the process fails.
	Encode(ctx context.Context, args []string) error
}

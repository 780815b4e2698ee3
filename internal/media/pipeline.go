package media

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/uniqualizer/internal/fault"
	"github.com/maauso/uniqualizer/internal/storage"
)

// Policy holds the replaceable transform parameters used to build a Request.
type Policy struct {
	SpeedFactor float64
	VideoCodec  string
	AudioCodec  string
	Preset      string
	Threads     int
	Timeout     time.Duration
}

// DefaultPolicy slows playback to 0.8x and encodes libx264/aac with the
// ultrafast preset on a single thread.
func DefaultPolicy() Policy {
	return Policy{
		SpeedFactor: 0.8,
		VideoCodec:  "libx264",
		AudioCodec:  "aac",
		Preset:      "ultrafast",
		Threads:     1,
		Timeout:     5 * time.Minute,
	}
}

// Request builds a Request for src.
func (p Policy) Request(src *storage.Artifact) Request {
	return Request{
		Source:      src,
		SpeedFactor: p.SpeedFactor,
		VideoCodec:  p.VideoCodec,
		AudioCodec:  p.AudioCodec,
		Preset:      p.Preset,
		Threads:     p.Threads,
		Timeout:     p.Timeout,
	}
}

// DeliverFunc receives a successful result while its output still exists.
type DeliverFunc func(ctx context.Context, res *Result) error

// Pipeline stages raw video bytes, transcodes them and cleans up. It caps
// the number of concurrent encode processes.
type Pipeline struct {
	store      storage.Store
	transcoder Transcoder
	policy     Policy
	slots      *semaphore.Weighted
	logger     *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPolicy replaces the default transform policy.
func WithPolicy(policy Policy) PipelineOption {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithMaxConcurrent caps concurrent transcodes. Non-positive values are ignored.
func WithMaxConcurrent(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewPipeline creates a Pipeline. By default two transcodes run at once.
func NewPipeline(store storage.Store, transcoder Transcoder, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:      store,
		transcoder: transcoder,
		policy:     DefaultPolicy(),
		slots:      semaphore.NewWeighted(2),
		logger:     logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the policy used to build requests.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Process writes input to a temp artifact, transcodes it and hands the
// result to deliver. Both the source and the output artifact are removed
// before Process returns, on every exit path including cancellation.
func (p *Pipeline) Process(ctx context.Context, input []byte, deliver DeliverFunc) error {
	return storage.WithArtifact(ctx, p.store, ".mp4", func(src *storage.Artifact) (err error) {
		if err := p.store.Write(ctx, src, input); err != nil {
			return err
		}

		res, err := p.transcode(ctx, src)
		if err != nil {
			return err
		}
		defer func() {
			if relErr := p.store.Release(res.Output); relErr != nil && err == nil {
				err = relErr
			}
		}()

		return deliver(ctx, res)
	})
}

// ProcessBytes runs Process and returns the encoded video bytes.
func (p *Pipeline) ProcessBytes(ctx context.Context, input []byte) ([]byte, error) {
	var out []byte
	err := p.Process(ctx, input, func(ctx context.Context, res *Result) error {
		data, err := p.store.Read(ctx, res.Output)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transcode holds one encode slot for the duration of the transcode.
func (p *Pipeline) transcode(ctx context.Context, src *storage.Artifact) (*Result, error) {
	waitStart := time.Now()
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fault.New(fault.KindExternalProcess, "acquire encode slot", "cancelled while waiting", err)
	}
	defer p.slots.Release(1)

	if wait := time.Since(waitStart); wait > time.Second {
		p.logger.Debug("waited for encode slot", slog.Duration("wait", wait))
	}

	return p.transcoder.Transcode(ctx, p.policy.Request(src))
}

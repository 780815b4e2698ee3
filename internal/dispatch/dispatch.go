// Package dispatch routes inbound events to the matching transform and turns
// the outcome into a reply. Failures are recorded for operators and reported
// to the sender only as a generic notice.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/uniqualizer/internal/event"
	"github.com/maauso/uniqualizer/internal/fault"
	"github.com/maauso/uniqualizer/internal/job"
	"github.com/maauso/uniqualizer/internal/storage"
	"github.com/maauso/uniqualizer/internal/text"
)

var (
	// ErrUnsupportedPayload is returned for a nil or unrecognised payload.
	ErrUnsupportedPayload = errors.New("unsupported payload")
	// ErrTransformPanic is returned when a transform panics.
	ErrTransformPanic = errors.New("transform panicked")
)

// Fetcher resolves a file reference held by the transport into bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref event.FileRef) ([]byte, error)
}

// PhotoTransformer re-encodes a still image.
type PhotoTransformer interface {
	Transform(ctx context.Context, data []byte) ([]byte, error)
}

// VideoProcessor transcodes a video and returns the encoded bytes.
type VideoProcessor interface {
	ProcessBytes(ctx context.Context, input []byte) ([]byte, error)
}

// Sink delivers replies back to the transport.
type Sink interface {
	Send(ctx context.Context, reply event.Outbound) error
}

// Dispatcher handles inbound events.
type Dispatcher struct {
	fetcher       Fetcher
	photos        PhotoTransformer
	videos        VideoProcessor
	jobs          job.Repository
	archive       storage.Archive
	textHeader    string
	maxConcurrent int
	logger        *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithArchive uploads every produced photo and video to a.
func WithArchive(a storage.Archive) Option {
	return func(d *Dispatcher) {
		d.archive = a
	}
}

// WithTextHeader prefixes text replies with header on its own line.
func WithTextHeader(header string) Option {
	return func(d *Dispatcher) {
		d.textHeader = header
	}
}

// WithMaxConcurrent caps how many events Serve handles at once.
// Non-positive values are ignored.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// New creates a Dispatcher. fetcher may be nil when every payload carries
// inline bytes.
func New(fetcher Fetcher, photos PhotoTransformer, videos VideoProcessor, jobs job.Repository, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		fetcher:       fetcher,
		photos:        photos,
		videos:        videos,
		jobs:          jobs,
		maxConcurrent: 8,
		logger:        logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs the transform matching ev's payload and returns the reply
// addressed to ev's chat. It never returns an error: failures become an
// ErrorNotice.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Inbound) event.Outbound {
	rec := job.NewWithID(ev.ID, kindName(ev.Payload))
	rec.SenderID = ev.SenderID
	rec.ChatID = ev.ChatID
	_ = rec.Start()
	d.save(ctx, rec)

	logger := d.logger.With(
		slog.String("job_id", rec.ID),
		slog.String("kind", rec.Kind),
		slog.Int64("sender_id", ev.SenderID),
	)
	logger.Info("handling event")

	content, size, err := d.safeTransform(ctx, logger, rec, ev.Payload)
	if err != nil {
		d.recordFailure(ctx, logger, rec, err)
		return event.Outbound{
			Recipient: ev.ChatID,
			Content:   event.ErrorNotice{Message: event.GenericErrorMessage},
		}
	}

	_ = rec.Complete(size)
	d.save(ctx, rec)
	logger.Info("event handled", slog.Int64("output_bytes", size))

	return event.Outbound{Recipient: ev.ChatID, Content: content}
}

// safeTransform turns a panicking transform into an unknown-kind failure.
func (d *Dispatcher) safeTransform(ctx context.Context, logger *slog.Logger, rec *job.Job, payload event.Payload) (content event.Content, size int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			content, size = nil, 0
			err = fault.New(fault.KindUnknown, "dispatch", fmt.Sprintf("panic: %v", r), ErrTransformPanic)
		}
	}()
	return d.transform(ctx, rec, payload)
}

func (d *Dispatcher) transform(ctx context.Context, rec *job.Job, payload event.Payload) (event.Content, int64, error) {
	switch p := payload.(type) {
	case event.Text:
		body := text.Transform(p.Body)
		if d.textHeader != "" {
			body = d.textHeader + "\n" + body
		}
		rec.SetInput(int64(len(p.Body)))
		return event.TextMessage{Body: body}, int64(len(body)), nil

	case event.Photo:
		data, err := d.fetch(ctx, rec, p.File)
		if err != nil {
			return nil, 0, err
		}
		out, err := d.photos.Transform(ctx, data)
		if err != nil {
			return nil, 0, err
		}
		d.archiveOutput(ctx, rec, "jpg", out)
		return event.PhotoAttachment{Data: out, Filename: event.PhotoFilename}, int64(len(out)), nil

	case event.Video:
		data, err := d.fetch(ctx, rec, p.File)
		if err != nil {
			return nil, 0, err
		}
		out, err := d.videos.ProcessBytes(ctx, data)
		if err != nil {
			return nil, 0, err
		}
		d.archiveOutput(ctx, rec, "mp4", out)
		return event.VideoAttachment{Data: out, Filename: event.VideoFilename}, int64(len(out)), nil

	default:
		return nil, 0, fault.New(fault.KindDecode, "dispatch", fmt.Sprintf("%T", payload), ErrUnsupportedPayload)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, rec *job.Job, ref event.FileRef) ([]byte, error) {
	var data []byte
	switch {
	case ref.Inline():
		data = ref.Data
	case d.fetcher == nil:
		return nil, fault.New(fault.KindConfiguration, "fetch", "no fetcher for file reference", nil)
	default:
		fetched, err := d.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	rec.SetInput(int64(len(data)))
	return data, nil
}

// archiveOutput uploads out when an archive is configured. Upload failures
// are logged and do not affect the reply.
func (d *Dispatcher) archiveOutput(ctx context.Context, rec *job.Job, ext string, out []byte) {
	if d.archive == nil {
		return
	}
	key := fmt.Sprintf("%s/%s.%s", rec.Kind, rec.ID, ext)
	url, err := d.archive.Upload(ctx, key, bytes.NewReader(out))
	if err != nil {
		d.logger.Warn("failed to archive output", slog.String("job_id", rec.ID), slog.String("key", key), slog.Any("error", err))
		return
	}
	rec.SetArchiveURL(url)
}

func (d *Dispatcher) recordFailure(ctx context.Context, logger *slog.Logger, rec *job.Job, err error) {
	kind := string(fault.KindOf(err))
	detail := fault.DetailOf(err)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		_ = rec.Timeout(kind, detail)
	case errors.Is(err, context.Canceled):
		_ = rec.Cancel(detail)
	default:
		_ = rec.Fail(kind, detail)
	}
	d.save(ctx, rec)

	logger.Error("event failed",
		slog.String("error_kind", kind),
		slog.String("detail", detail),
		slog.Any("error", err),
	)
}

// save stores a record snapshot even after ctx is cancelled.
func (d *Dispatcher) save(ctx context.Context, rec *job.Job) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.Save(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to save job record", slog.String("job_id", rec.ID), slog.Any("error", err))
	}
}

// Serve handles events from source concurrently and sends each reply to
// sink. Events are independent: replies may go out in any order. Serve
// returns after source is closed or ctx is done, once every started event
// has been replied to.
func (d *Dispatcher) Serve(ctx context.Context, source <-chan event.Inbound, sink Sink) error {
	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case ev, ok := <-source:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						d.logger.Error("panic recovered",
							slog.String("event_id", ev.ID),
							slog.Any("error", r),
							slog.String("stack", string(debug.Stack())),
						)
					}
				}()
				reply := d.Handle(ctx, ev)
				if err := sink.Send(context.WithoutCancel(ctx), reply); err != nil {
					d.logger.Error("failed to send reply",
						slog.String("event_id", ev.ID),
						slog.Int64("chat_id", reply.Recipient),
						slog.Any("error", err),
					)
				}
				return nil
			})
		}
	}
}

func kindName(p event.Payload) string {
	if p == nil {
		return "unknown"
	}
	return p.Kind().String()
}

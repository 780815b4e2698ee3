// Package job keeps a record of every request the bot handles so operators
// can look up what happened to it. A Job moves through a small state machine
// and, when it fails, keeps the internal error kind and detail that are never
// shown to the sender.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/uniqualizer/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the request was received but not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the request is being transformed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates a reply was produced.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the transform failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the request was abandoned on shutdown.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the transform exceeded its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the record of one inbound request.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this record.
	ID string
	// Kind is the payload kind: text, photo or video.
	Kind string
	// SenderID identifies who sent the request.
	SenderID int64
	// ChatID is where the reply goes.
	ChatID int64
	// Status is the current state.
	Status Status
	// ErrorKind is the internal failure category, empty unless failed.
	ErrorKind string
	// Error is the internal failure detail.
	Error string
	// InputBytes is the size of the received payload.
	InputBytes int64
	// OutputBytes is the size of the produced reply payload.
	OutputBytes int64
	// ArchiveURL is set when the output was archived to S3.
	ArchiveURL string
	// CreatedAt is when the request was received.
	CreatedAt time.Time
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a Job with a generated ID in IN_QUEUE state.
func New(kind string) *Job {
	return NewWithID(id.Generate(""), kind)
}

// NewWithID creates a Job with the given ID in IN_QUEUE state.
// An empty ID is replaced by a generated one.
func NewWithID(jobID, kind string) *Job {
	if jobID == "" {
		jobID = id.Generate("")
	}
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and records the output size.
func (j *Job) Complete(outputBytes int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.OutputBytes = outputBytes
	return nil
}

// Fail transitions the job to FAILED and records the error kind and detail.
func (j *Job) Fail(kind, detail string) error {
	return j.finishWithError(StatusFailed, kind, detail)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel(detail string) error {
	return j.finishWithError(StatusCancelled, "", detail)
}

// Timeout transitions the job to TIMED_OUT and records the error kind and detail.
func (j *Job) Timeout(kind, detail string) error {
	return j.finishWithError(StatusTimedOut, kind, detail)
}

func (j *Job) finishWithError(status Status, kind, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.Error = detail
	return nil
}

// SetInput records the size of the received payload.
func (j *Job) SetInput(size int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.InputBytes = size
	j.UpdatedAt = time.Now()
}

// SetArchiveURL records where the output was archived.
func (j *Job) SetArchiveURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ArchiveURL = url
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Kind:        j.Kind,
		SenderID:    j.SenderID,
		ChatID:      j.ChatID,
		Status:      j.Status,
		ErrorKind:   j.ErrorKind,
		Error:       j.Error,
		InputBytes:  j.InputBytes,
		OutputBytes: j.OutputBytes,
		ArchiveURL:  j.ArchiveURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

package media

import (
	"errors"
	"log/slog"
	"time"
)

// Stage is the position of one transcode invocation in its lifecycle.
type Stage string

const (
	// StageIdle is the state before any work starts.
	StageIdle Stage = "IDLE"
	// StageDecoding opens and probes the source.
	StageDecoding Stage = "DECODING"
	// StageFiltering builds the speed filter graph.
	StageFiltering Stage = "FILTERING"
	// StageEncoding runs the external encode process.
	StageEncoding Stage = "ENCODING"
	// StageValidating checks the produced output.
	StageValidating Stage = "VALIDATING"
	// StageDone is the successful terminal state.
	StageDone Stage = "DONE"
	// StageFailed is the unsuccessful terminal state.
	StageFailed Stage = "FAILED"
)

// ErrInvalidStageTransition is returned when a stage is skipped or revisited.
var ErrInvalidStageTransition = errors.New("invalid stage transition")

// validStageTransitions defines which stage transitions are allowed.
var validStageTransitions = map[Stage][]Stage{
	StageIdle:       {StageDecoding, StageFailed},
	StageDecoding:   {StageFiltering, StageFailed},
	StageFiltering:  {StageEncoding, StageFailed},
	StageEncoding:   {StageValidating, StageFailed},
	StageValidating: {StageDone, StageFailed},
	StageDone:       {},
	StageFailed:     {},
}

// canTransitionStage checks if a transition from one stage to another is valid.
func canTransitionStage(from, to Stage) bool {
	for _, s := range validStageTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for Done and Failed.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// stageTracker walks one invocation through its stages and logs each step.
// It is not safe for concurrent use; each invocation owns its tracker.
type stageTracker struct {
	stage   Stage
	entered time.Time
	logger  *slog.Logger
}

func newStageTracker(logger *slog.Logger) *stageTracker {
	return &stageTracker{stage: StageIdle, entered: time.Now(), logger: logger}
}

// advance moves to the next stage.
func (t *stageTracker) advance(to Stage) error {
	if !canTransitionStage(t.stage, to) {
		return ErrInvalidStageTransition
	}
	now := time.Now()
	t.logger.Debug("transcode stage",
		slog.String("from", string(t.stage)),
		slog.String("to", string(to)),
		slog.Duration("elapsed", now.Sub(t.entered)),
	)
	t.stage = to
	t.entered = now
	return nil
}

// fail moves to Failed from any non-terminal stage and returns the stage
// the failure happened in.
func (t *stageTracker) fail() Stage {
	failedIn := t.stage
	if !t.stage.IsTerminal() {
		_ = t.advance(StageFailed)
	}
	return failedIn
}

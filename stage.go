package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type StageID int

const (
	StageLogin StageID = iota
	StageAwaitDashboard
	StageStartBooking
	StageSelectCentre
	StageSelectCategory
	StageSelectSubcategory
	StageExtractResult
)

var stageNames = map[StageID]string{
	StageLogin:             "Login",
	StageAwaitDashboard:    "AwaitDashboard",
	StageStartBooking:      "StartBooking",
	StageSelectCentre:      "SelectCentre",
	StageSelectCategory:    "SelectCategory",
	StageSelectSubcategory: "SelectSubcategory",
	StageExtractResult:     "ExtractResult",
}

func (s StageID) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Stage is one step of the run. Action may be repeated and must tolerate it.
// Done reports that the action took effect; Fatal, when set, reports a page
// state from which retrying is pointless.
type Stage struct {
	ID       StageID
	Action   func(ctx context.Context) error
	Done     Predicate
	Fatal    Predicate
	Policy   RetryPolicy
	Timeout  time.Duration
	Interval time.Duration
}

// AttemptRecord is kept for reporting only.
type AttemptRecord struct {
	Stage      StageID
	Attempt    int
	Outcome    OutcomeKind
	Reason     string
	Checkpoint string
	StartedAt  time.Time
	FinishedAt time.Time
}

type StageResult struct {
	Stage    StageID
	Attempts []AttemptRecord
	Err      error
}

func (r StageResult) OK() bool { return r.Err == nil }

// LastCheckpoint is the most recent non-empty checkpoint reference.
func (r StageResult) LastCheckpoint() string {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if r.Attempts[i].Checkpoint != "" {
			return r.Attempts[i].Checkpoint
		}
	}
	return ""
}

var errNotCompleted = errors.New("completion check timed out")

type StageExecutor struct {
	checkpoints *Checkpointer
	logger      *zap.Logger
}

func NewStageExecutor(checkpoints *Checkpointer, logger *zap.Logger) *StageExecutor {
	return &StageExecutor{checkpoints: checkpoints, logger: logger.Named("stage")}
}

// Run executes the stage under its retry policy. Each attempt runs the action,
// captures a checkpoint, then polls for completion.
func (e *StageExecutor) Run(ctx context.Context, stage Stage) StageResult {
	result := StageResult{Stage: stage.ID}
	log := e.logger.With(zap.Stringer("stage", stage.ID))

	_, err := stage.Policy.Run(ctx, func(ctx context.Context, attempt int) Outcome {
		rec := AttemptRecord{Stage: stage.ID, Attempt: attempt, StartedAt: time.Now()}
		log.Info("Attempt started", zap.Int("attempt", attempt), zap.Int("budget", stage.Policy.attempts()))

		out := e.attempt(ctx, stage, &rec)

		rec.Outcome = out.Kind
		if out.Reason != nil {
			rec.Reason = out.Reason.Error()
		}
		rec.FinishedAt = time.Now()
		result.Attempts = append(result.Attempts, rec)

		switch out.Kind {
		case Success:
			log.Info("Stage completed", zap.Int("attempt", attempt), zap.Duration("took", rec.FinishedAt.Sub(rec.StartedAt)))
		case FatalFailure:
			log.Error("Stage failed fatally", zap.Int("attempt", attempt), zap.Error(out.Reason), zap.String("checkpoint", rec.Checkpoint))
		default:
			log.Warn("Attempt failed", zap.Int("attempt", attempt), zap.Error(out.Reason), zap.String("checkpoint", rec.Checkpoint))
		}
		return out
	})

	result.Err = err
	return result
}

func (e *StageExecutor) attempt(ctx context.Context, stage Stage, rec *AttemptRecord) Outcome {
	var actionErr error
	if stage.Action != nil {
		actionErr = stage.Action(ctx)
	}
	rec.Checkpoint = e.checkpoints.Capture(ctx, stage.ID, rec.Attempt)

	if actionErr != nil {
		if IsFatal(actionErr) {
			return Abort(actionErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(actionErr, ctxErr) {
			return Abort(actionErr)
		}
		if stage.Fatal != nil && stage.Fatal(ctx) {
			return Abort(fmt.Errorf("fatal page state after action error: %w", actionErr))
		}
		return Retry(actionErr)
	}

	if stage.Done == nil {
		return Succeeded()
	}

	PollUntil(ctx, anyOf(stage.Done, stage.Fatal), stage.Timeout, stage.Interval)

	// Done wins over Fatal when both hold.
	if stage.Done(ctx) {
		return Succeeded()
	}
	if stage.Fatal != nil && stage.Fatal(ctx) {
		return Abort(errors.New("fatal page state reached"))
	}
	if err := ctx.Err(); err != nil {
		return Abort(err)
	}
	return Retry(errNotCompleted)
}

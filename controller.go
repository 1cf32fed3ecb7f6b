package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultResultMessage = "Booking flow completed but no status message was found on the page."

type RunOutcome struct {
	Success    bool
	FinalStage StageID
	Message    string
	Reason     string
	Checkpoint string
	Attempts   []AttemptRecord
}

type ExtractSettings struct {
	Settle   time.Duration
	Timeout  time.Duration
	Interval time.Duration
	Fallback string
}

// Plan is everything one run executes, in order: the plain stages, the
// dropdown cascade, then result extraction.
type Plan struct {
	Stages  []Stage
	Fields  []DropdownField
	Extract ExtractSettings
}

// StageController owns the session for the run and closes it at the end.
type StageController struct {
	driver     Driver
	executor   *StageExecutor
	cascade    *DropdownCascadeSelector
	extractor  *ResultExtractor
	dispatcher *NotificationDispatcher
	logger     *zap.Logger
}

func NewStageController(driver Driver, executor *StageExecutor, cascade *DropdownCascadeSelector, extractor *ResultExtractor, dispatcher *NotificationDispatcher, logger *zap.Logger) *StageController {
	return &StageController{
		driver:     driver,
		executor:   executor,
		cascade:    cascade,
		extractor:  extractor,
		dispatcher: dispatcher,
		logger:     logger.Named("controller"),
	}
}

type aliveChecker interface {
	Alive() bool
}

func (c *StageController) Run(ctx context.Context, plan Plan) RunOutcome {
	defer func() {
		if err := c.driver.Close(); err != nil {
			c.logger.Warn("Failed to close session", zap.Error(err))
		}
	}()

	out := c.run(ctx, plan)
	if out.Success {
		c.logger.Info("Run completed", zap.String("message", out.Message), zap.Int("attempts", len(out.Attempts)))
	} else {
		c.logger.Error("Run failed", zap.Stringer("stage", out.FinalStage), zap.String("reason", out.Reason), zap.String("checkpoint", out.Checkpoint))
	}

	if c.dispatcher != nil {
		c.dispatcher.Deliver(ctx, out)
	}
	return out
}

func (c *StageController) run(ctx context.Context, plan Plan) RunOutcome {
	var out RunOutcome

	for _, stage := range plan.Stages {
		out.FinalStage = stage.ID
		if err := c.checkSession(); err != nil {
			return failed(out, stage.ID, err, "")
		}
		res := c.executor.Run(ctx, stage)
		out.Attempts = append(out.Attempts, res.Attempts...)
		if !res.OK() {
			return failed(out, stage.ID, res.Err, res.LastCheckpoint())
		}
	}

	if len(plan.Fields) > 0 {
		if err := c.checkSession(); err != nil {
			return failed(out, plan.Fields[0].ID, err, "")
		}
		ok, res := c.cascade.SelectCascade(ctx, plan.Fields)
		out.FinalStage = res.Stage
		out.Attempts = append(out.Attempts, res.Attempts...)
		if !ok {
			return failed(out, res.Stage, res.Err, res.LastCheckpoint())
		}
	}

	out.FinalStage = StageExtractResult
	msg, res := c.extract(ctx, plan.Extract)
	out.Attempts = append(out.Attempts, res.Attempts...)
	if err := ctx.Err(); err != nil {
		return failed(out, StageExtractResult, fmt.Errorf("run interrupted: %w", err), res.LastCheckpoint())
	}
	if !res.OK() && !errors.Is(res.Err, ErrExhausted) {
		return failed(out, StageExtractResult, res.Err, res.LastCheckpoint())
	}

	out.Success = true
	out.Message = msg
	out.Checkpoint = res.LastCheckpoint()
	return out
}

// extract polls for a status message. Running out of time is not a failure,
// the fallback message is used instead.
func (c *StageController) extract(ctx context.Context, s ExtractSettings) (string, StageResult) {
	var found string
	res := c.executor.Run(ctx, Stage{
		ID:     StageExtractResult,
		Action: func(ctx context.Context) error { return sleepCtx(ctx, s.Settle) },
		Done: func(ctx context.Context) bool {
			msg, ok := c.extractor.Extract(ctx)
			if ok {
				found = msg
			}
			return ok
		},
		Policy:   FixedPolicy(1, 0),
		Timeout:  s.Timeout,
		Interval: s.Interval,
	})

	if found == "" {
		found = s.Fallback
		if found == "" {
			found = defaultResultMessage
		}
		c.logger.Info("No status message found, using fallback")
	}
	return found, res
}

func (c *StageController) checkSession() error {
	if ac, ok := c.driver.(aliveChecker); ok && !ac.Alive() {
		return fatalf("browser session is gone")
	}
	return nil
}

func failed(out RunOutcome, stage StageID, err error, checkpoint string) RunOutcome {
	out.Success = false
	out.FinalStage = stage
	out.Checkpoint = checkpoint
	if err == nil {
		err = fmt.Errorf("stage %s did not complete", stage)
	}
	out.Reason = err.Error()
	return out
}

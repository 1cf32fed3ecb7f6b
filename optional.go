package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Affordance is a UI element that may legitimately be missing, such as a
// one-time consent banner.
type Affordance struct {
	Name    string
	Locator Locator
	Wait    time.Duration
	Settle  time.Duration
}

// ClickOptional waits up to a.Wait for the affordance and clicks it if it
// shows up. Absence and click errors are logged, never returned, so the
// result only says whether it was handled.
func ClickOptional(ctx context.Context, d Driver, a Affordance, interval time.Duration, logger *zap.Logger) bool {
	if a.Locator.IsZero() {
		return false
	}
	if !PollUntil(ctx, present(d, a.Locator), a.Wait, interval) {
		logger.Debug("Optional affordance absent", zap.String("affordance", a.Name))
		return false
	}
	if err := d.Click(ctx, a.Locator); err != nil {
		logger.Info("Optional affordance click failed", zap.String("affordance", a.Name), zap.Error(err))
		return false
	}
	logger.Info("Optional affordance handled", zap.String("affordance", a.Name))
	_ = sleepCtx(ctx, a.Settle)
	return true
}

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Checkpointer writes one screenshot per stage attempt. It is a debugging side
// channel: failures are logged and the empty reference is returned.
type Checkpointer struct {
	driver Driver
	dir    string
	logger *zap.Logger
}

// NewCheckpointer stores images under dir/runID. An empty dir disables
// capturing.
func NewCheckpointer(driver Driver, dir, runID string, logger *zap.Logger) *Checkpointer {
	if dir != "" && runID != "" {
		dir = filepath.Join(dir, runID)
	}
	return &Checkpointer{driver: driver, dir: dir, logger: logger.Named("checkpoint")}
}

func (c *Checkpointer) Capture(ctx context.Context, stage StageID, attempt int) string {
	if c == nil || c.dir == "" {
		return ""
	}
	name := fmt.Sprintf("%s_attempt_%d.png", strings.ToLower(stage.String()), attempt)
	path := filepath.Join(c.dir, name)

	if err := c.driver.Screenshot(ctx, path); err != nil {
		c.logger.Warn("Screenshot failed", zap.Stringer("stage", stage), zap.Int("attempt", attempt), zap.Error(err))
		return ""
	}
	c.logger.Debug("Screenshot saved", zap.String("path", path))
	return path
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DropdownField is one select control in a dependent chain. Expect, when set,
// is the text the control must show once the option is applied.
type DropdownField struct {
	ID       StageID
	Control  Locator
	Option   Locator
	Expect   string
	Settle   time.Duration
	Policy   RetryPolicy
	Timeout  time.Duration
	Interval time.Duration
}

// DropdownCascadeSelector fills dependent dropdowns strictly in order.
type DropdownCascadeSelector struct {
	driver   Driver
	executor *StageExecutor
	logger   *zap.Logger
}

func NewDropdownCascadeSelector(driver Driver, executor *StageExecutor, logger *zap.Logger) *DropdownCascadeSelector {
	return &DropdownCascadeSelector{driver: driver, executor: executor, logger: logger.Named("cascade")}
}

// SelectCascade returns false on the first field that fails and leaves the
// remaining fields untouched, since their options derive from the earlier
// selections. The result belongs to the last field attempted.
func (c *DropdownCascadeSelector) SelectCascade(ctx context.Context, fields []DropdownField) (bool, StageResult) {
	var last StageResult
	for i, field := range fields {
		c.logger.Info("Selecting field", zap.Stringer("field", field.ID), zap.Int("position", i+1), zap.Int("of", len(fields)))

		last = c.executor.Run(ctx, c.stage(field))
		if !last.OK() {
			c.logger.Error("Cascade aborted", zap.Stringer("field", field.ID), zap.Error(last.Err))
			return false, last
		}
	}
	return true, last
}

func (c *DropdownCascadeSelector) stage(field DropdownField) Stage {
	return Stage{
		ID:       field.ID,
		Action:   func(ctx context.Context) error { return c.choose(ctx, field) },
		Done:     c.applied(field),
		Policy:   field.Policy,
		Timeout:  field.Timeout,
		Interval: field.Interval,
	}
}

func (c *DropdownCascadeSelector) choose(ctx context.Context, field DropdownField) error {
	if err := waitFor(ctx, c.driver, field.Control, field.Timeout, field.Interval); err != nil {
		return fmt.Errorf("control %s: %w", field.Control, err)
	}
	if err := c.driver.Click(ctx, field.Control); err != nil {
		return fmt.Errorf("failed to open %s: %w", field.Control, err)
	}
	if err := sleepCtx(ctx, field.Settle); err != nil {
		return err
	}

	if err := waitFor(ctx, c.driver, field.Option, field.Timeout, field.Interval); err != nil {
		return fmt.Errorf("option %s: %w", field.Option, err)
	}
	if err := c.driver.Click(ctx, field.Option); err != nil {
		return fmt.Errorf("failed to choose %s: %w", field.Option, err)
	}
	c.logger.Debug("Option clicked", zap.Stringer("field", field.ID), zap.Stringer("option", field.Option))

	// Dependent controls only populate after the form reacts to the change.
	return sleepCtx(ctx, field.Settle)
}

func (c *DropdownCascadeSelector) applied(field DropdownField) Predicate {
	if field.Expect == "" {
		return func(ctx context.Context) bool {
			el, err := c.driver.FindElement(ctx, field.Option)
			return err == nil && el == nil
		}
	}
	return func(ctx context.Context) bool {
		return strings.Contains(elementText(ctx, c.driver, field.Control), field.Expect)
	}
}

package main

import (
	"context"
	"time"
)

// Predicate is a read-only check of observable session state.
type Predicate func(ctx context.Context) bool

func anyOf(preds ...Predicate) Predicate {
	return func(ctx context.Context) bool {
		for _, p := range preds {
			if p != nil && p(ctx) {
				return true
			}
		}
		return false
	}
}

func allOf(preds ...Predicate) Predicate {
	return func(ctx context.Context) bool {
		for _, p := range preds {
			if p != nil && !p(ctx) {
				return false
			}
		}
		return true
	}
}

// PollUntil evaluates pred right away and then every interval until it holds
// or timeout elapses. The deadline is inclusive: pred is evaluated once more
// at the deadline, so a condition that becomes true exactly at timeout counts.
// A cancelled ctx returns false.
func PollUntil(ctx context.Context, pred Predicate, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return false
		}
		if pred(ctx) {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return false
		}
	}
}

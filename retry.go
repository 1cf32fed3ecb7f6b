package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OutcomeKind classifies a single attempt.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	RetryableFailure
	FatalFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what an attempt reports back to the retry loop.
type Outcome struct {
	Kind   OutcomeKind
	Reason error
}

func Succeeded() Outcome { return Outcome{Kind: Success} }

func Retry(reason error) Outcome { return Outcome{Kind: RetryableFailure, Reason: reason} }

func Abort(reason error) Outcome { return Outcome{Kind: FatalFailure, Reason: reason} }

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("retry budget exhausted")

type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("retry budget exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// FatalError marks a failure that must not burn the rest of the budget.
type FatalError struct {
	Reason error
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason.Error() }

func (e *FatalError) Unwrap() error { return e.Reason }

func fatalf(format string, args ...interface{}) error {
	return &FatalError{Reason: fmt.Errorf(format, args...)}
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetryPolicy bounds attempts and spaces them out. Backoff <= 1 means a fixed
// delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
	MaxDelay    time.Duration
}

func FixedPolicy(attempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: delay}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// schedule is the unbounded delay sequence between attempts.
func (p RetryPolicy) schedule() backoff.BackOff {
	if p.Backoff <= 1 {
		d := p.Delay
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return backoff.NewConstantBackOff(d)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Backoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

// delayAfter returns the pause following the given (1-based) attempt.
func (p RetryPolicy) delayAfter(attempt int) time.Duration {
	b := p.schedule()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run invokes fn until it succeeds, reports a fatal failure or the budget is
// spent. It returns the number of attempts made. A fatal outcome is returned
// as a *FatalError, exhaustion as an *ExhaustedError. There is no pause after
// the last attempt.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) Outcome) (int, error) {
	attempt := 0
	var last error

	operation := func() error {
		attempt++
		out := fn(ctx, attempt)
		switch out.Kind {
		case Success:
			return nil
		case FatalFailure:
			reason := out.Reason
			if reason == nil {
				reason = fmt.Errorf("attempt %d failed", attempt)
			}
			if IsFatal(reason) {
				return backoff.Permanent(reason)
			}
			return backoff.Permanent(&FatalError{Reason: reason})
		}
		last = out.Reason
		if last == nil {
			last = fmt.Errorf("attempt %d failed", attempt)
		}
		return last
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(p.attempts()-1)), ctx)
	err := backoff.Retry(operation, b)
	switch {
	case err == nil:
		return attempt, nil
	case IsFatal(err):
		return attempt, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempt, fmt.Errorf("retry interrupted after attempt %d: %w", attempt, ctxErr)
	}
	return attempt, &ExhaustedError{Attempts: attempt, Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

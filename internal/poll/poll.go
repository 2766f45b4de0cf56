// Package poll provides a bounded, fixed-interval retry primitive for
// observing state that another process writes on its own schedule.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// Policy bounds a poll loop.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %v", p.Interval)
	}
	return nil
}

// Budget is the longest total wait the policy allows. No wait follows the
// final attempt.
func (p Policy) Budget() time.Duration {
	if p.MaxAttempts < 1 {
		return 0
	}
	return time.Duration(p.MaxAttempts-1) * p.Interval
}

// Func is evaluated once per attempt. Returning ok=true ends the loop with
// value. A non-nil err means "not yet": it is remembered for diagnostics
// and the loop keeps going.
type Func[T any] func(ctx context.Context, attempt int) (value T, ok bool, err error)

// ExhaustedError is returned when every attempt ran without success.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error // last not-yet error reported by the predicate, if any
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("condition not met after %d attempts (%v)", e.Attempts, e.Elapsed)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err is (or wraps) an *ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Until calls fn up to p.MaxAttempts times, waiting p.Interval on clock
// between attempts. It returns the first successful value together with the
// number of attempts used. On exhaustion it returns *ExhaustedError; if ctx
// ends first it returns ctx.Err().
func Until[T any](ctx context.Context, clock ports.Clock, p Policy, fn Func[T]) (T, int, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, 0, err
	}

	start := clock.Now()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		value, ok, err := fn(ctx, attempt)
		if ok {
			return value, attempt, nil
		}
		if err != nil {
			last = err
		}

		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		case <-clock.After(p.Interval):
		}
	}

	return zero, p.MaxAttempts, &ExhaustedError{
		Attempts: p.MaxAttempts,
		Elapsed:  clock.Now().Sub(start),
		Last:     last,
	}
}

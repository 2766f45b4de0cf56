// Package fakeclock provides a controllable Clock implementation for testing.
package fakeclock

import (
	"sync"
	"time"

	"github.com/acolita/claude-session-probe/internal/ports"
)

// Clock is a fake clock that can be controlled in tests.
//
// A manual clock (New) only moves when Advance or Set is called. An
// auto-advancing clock (NewAuto) jumps forward by the requested duration
// whenever Sleep or After is called, so code that waits on timers runs
// to completion instantly while still observing a consistent timeline.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	auto    bool
	waiters []waiter
	waits   []time.Duration
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// New creates a new manual fake clock initialized to the given time.
func New(initial time.Time) *Clock {
	return &Clock{current: initial}
}

// NewAuto creates a fake clock that advances itself on every wait.
func NewAuto(initial time.Time) *Clock {
	return &Clock{current: initial, auto: true}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep records the wait. A manual clock returns immediately without
// moving; an auto clock advances by d.
func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	auto := c.auto
	c.mu.Unlock()

	if auto {
		c.Advance(d)
	}
}

// After returns a channel that receives the time after duration d.
// On a manual clock the channel fires when Advance() moves past the
// deadline; on an auto clock it fires immediately after advancing.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)

	ch := make(chan time.Time, 1)
	deadline := c.current.Add(d)

	if c.auto {
		c.mu.Unlock()
		c.Advance(d)
		ch <- c.Now()
		return ch
	}

	// If already past deadline, fire immediately
	if !c.current.Before(deadline) {
		ch <- c.current
		c.mu.Unlock()
		return ch
	}

	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	c.mu.Unlock()
	return ch
}

// Advance moves the clock forward by duration d, firing any waiters.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var remaining []waiter
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			select {
			case w.ch <- now:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
}

// Set sets the clock to a specific time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Waits returns every duration passed to Sleep or After, in call order.
func (c *Clock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// Pending returns the number of After channels that have not fired yet.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)

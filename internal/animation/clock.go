package animation

import "time"

// DefaultStep is one tick at 60 Hz.
const DefaultStep = time.Second / 60

// Clock turns wall-clock time into a whole number of fixed simulation steps.
// Time that does not fill a step carries over to the next Advance.
type Clock struct {
	step     time.Duration
	maxSteps int

	last    time.Time
	started bool
	acc     time.Duration
}

// NewClock returns a clock producing steps of length step, at most maxSteps
// per Advance. Non-positive arguments select DefaultStep and no cap.
func NewClock(step time.Duration, maxSteps int) *Clock {
	if step <= 0 {
		step = DefaultStep
	}
	return &Clock{step: step, maxSteps: maxSteps}
}

// Step is the fixed simulation step.
func (c *Clock) Step() time.Duration {
	return c.step
}

// Advance records now and returns how many steps are due. The first call only
// starts the clock. When more than maxSteps are due the backlog is dropped so
// a stall does not turn into a burst of catch-up ticks.
func (c *Clock) Advance(now time.Time) int {
	if !c.started {
		c.started = true
		c.last = now
		return 0
	}
	elapsed := now.Sub(c.last)
	c.last = now
	if elapsed > 0 {
		c.acc += elapsed
	}

	steps := int(c.acc / c.step)
	if c.maxSteps > 0 && steps > c.maxSteps {
		steps = c.maxSteps
		c.acc %= c.step
		return steps
	}
	c.acc -= time.Duration(steps) * c.step
	return steps
}

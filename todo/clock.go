package todo

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing timestamps.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock returns a Clock backed by now, or time.Now when nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a timestamp later than every value previously returned or observed.
func (c *Clock) Next() time.Time {
	for {
		now := c.now().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}

// After returns Next, bumped past prev when the wall clock lags behind it.
func (c *Clock) After(prev time.Time) time.Time {
	c.Observe(prev)
	return c.Next()
}

// Observe records t so later timestamps sort after it.
func (c *Clock) Observe(t time.Time) {
	ns := t.UnixNano()
	for {
		last := c.last.Load()
		if ns <= last || c.last.CompareAndSwap(last, ns) {
			return
		}
	}
}

package batch

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing logical timestamps. Two batches never
// share a timestamp, even when the wall clock stalls or steps back.
type Clock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewClock returns a Clock reading the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource returns a Clock reading now. Used in tests.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns a timestamp strictly after every previous one, at microsecond
// resolution.
func (c *Clock) Next() time.Time {
	for {
		last := c.last.Load()
		next := c.now().UnixMicro()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return time.UnixMicro(next)
		}
	}
}

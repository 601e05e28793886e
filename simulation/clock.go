package simulation

import "sync/atomic"

// Clock is the shared logical time, advanced once per round by the driver.
type Clock struct {
	now int64
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Now() int64 {
	return atomic.LoadInt64(&c.now)
}

// Advance moves time forward by one tick and returns the new value.
func (c *Clock) Advance() int64 {
	return atomic.AddInt64(&c.now, 1)
}

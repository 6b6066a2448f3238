package journal

import "sync/atomic"

// Clock is the monotonic logical clock that orders journal rows.
//
// Every row is stamped with a strictly increasing seq from this clock, so
// reading a session back never depends on wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Chunk hooks of different Sources may stamp rows concurrently.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1.
// Used to resume after the highest seq already in the database.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

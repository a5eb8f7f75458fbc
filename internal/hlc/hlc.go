// Package hlc implements a hybrid logical clock: a (wall_clock, logical)
// pair giving strict, causally-consistent ordering across peers, per the
// Communitas core's op-log timestamping requirement.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is comparable and orders by wall clock, then logical counter.
type Timestamp struct {
	Wall    int64 // unix nanoseconds
	Logical uint32
}

func (t Timestamp) Less(o Timestamp) bool {
	if t.Wall != o.Wall {
		return t.Wall < o.Wall
	}
	return t.Logical < o.Logical
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Wall, t.Logical)
}

// Clock is a mutex-guarded hybrid logical clock. The zero value is not
// usable; construct with New.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() int64 // unix nanoseconds, overridable for tests
}

func New() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixNano() }}
}

// NewWithSource constructs a Clock with an overridden wall-clock source,
// for deterministic tests.
func NewWithSource(now func() int64) *Clock {
	return &Clock{now: now}
}

// Tick advances the clock and returns a timestamp strictly greater than
// every previous Tick or Update on this clock.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	if wall > c.last.Wall {
		c.last = Timestamp{Wall: wall, Logical: 0}
	} else {
		c.last = Timestamp{Wall: c.last.Wall, Logical: c.last.Logical + 1}
	}
	return c.last
}

// Update folds a remote timestamp into the clock so the next Tick is
// strictly greater than remote.
func (c *Clock) Update(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now()
	switch {
	case wall > c.last.Wall && wall > remote.Wall:
		c.last = Timestamp{Wall: wall, Logical: 0}
	case remote.Wall > c.last.Wall:
		c.last = Timestamp{Wall: remote.Wall, Logical: remote.Logical + 1}
	default:
		logical := c.last.Logical
		if remote.Wall == c.last.Wall && remote.Logical > logical {
			logical = remote.Logical
		}
		c.last = Timestamp{Wall: c.last.Wall, Logical: logical + 1}
	}
}

// Last returns the most recently issued timestamp without advancing the
// clock.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
//
// Production code uses Real(); tests use Fake() to get exact timestamps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

// FakeClock is a manually driven Clock. Safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StampLayout is UTC with second precision and a literal Z suffix.
const StampLayout = "2006-01-02T15:04:05Z"

// Stamp renders the current time of c as a telemetry timestamp.
func Stamp(c Clock) string {
	return c.Now().UTC().Truncate(time.Second).Format(StampLayout)
}

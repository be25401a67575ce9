package keymanager

import (
	"fmt"
	"strings"
	"time"
)

// Class is a quota class: the time window over which a provider enforces a limit.
type Class string

const (
	PerMinute Class = "minute"
	PerDay    Class = "day"
	PerMonth  Class = "month"
)

// Duration returns the window length of the class. Months are treated as 30 days.
func (c Class) Duration() time.Duration {
	switch c {
	case PerMinute:
		return time.Minute
	case PerDay:
		return 24 * time.Hour
	case PerMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseClass accepts the class names used in credential files.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minute", "min", "rpm":
		return PerMinute, nil
	case "day", "daily":
		return PerDay, nil
	case "month", "monthly":
		return PerMonth, nil
	default:
		return "", fmt.Errorf("%w: unknown quota class %q", ErrInvalidConfig, s)
	}
}

// Counter tracks usage of one credential within one fixed window.
//
// Counters are not safe for concurrent use; the owning Manager serializes access.
// The window is reset lazily on every read or write once it has elapsed.
type Counter struct {
	class    Class
	capacity int64
	count    int64
	start    time.Time
}

// NewCounter creates an empty counter whose window starts at start.
// A capacity of zero means the limit is unknown: utilization stays at zero.
func NewCounter(class Class, capacity int64, start time.Time) *Counter {
	return &Counter{
		class:    class,
		capacity: capacity,
		start:    start,
	}
}

// TryConsume records one unit of usage and returns the post-increment utilization.
// Usage past capacity is still recorded so that overshoot can be observed.
func (c *Counter) TryConsume(now time.Time) float64 {
	c.resetIfElapsed(now)
	c.count++

	return c.ratio()
}

// Utilization returns count/capacity for the current window.
func (c *Counter) Utilization(now time.Time) float64 {
	c.resetIfElapsed(now)

	return c.ratio()
}

// Count returns the usage recorded in the current window.
func (c *Counter) Count(now time.Time) int64 {
	c.resetIfElapsed(now)

	return c.count
}

func (c *Counter) Class() Class     { return c.class }
func (c *Counter) Capacity() int64  { return c.capacity }
func (c *Counter) Start() time.Time { return c.start }

// ResetsAt returns when the current window elapses.
func (c *Counter) ResetsAt() time.Time {
	return c.start.Add(c.class.Duration())
}

func (c *Counter) resetIfElapsed(now time.Time) {
	if elapsed(now, c.start, c.class.Duration()) {
		c.count = 0
		c.start = now
	}
}

func (c *Counter) ratio() float64 {
	if c.capacity <= 0 {
		return 0
	}

	return float64(c.count) / float64(c.capacity)
}

func elapsed(now, start time.Time, window time.Duration) bool {
	return now.Sub(start) >= window
}

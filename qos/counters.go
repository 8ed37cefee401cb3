package qos

import (
	"fmt"
	"sync"
	"time"
)

// RollingAverageCounter is a fixed-capacity ring buffer of integer samples
// that reports their arithmetic mean. It corresponds to the original
// filter's AverageCounter, re-expressed with a plain sample-count instead
// of the original's phantom pre-seeded sample; the observable behavior
// (zero when empty, exact mean once populated, oldest-evicts-first once
// full) is identical.
type RollingAverageCounter struct {
	// Label describes what this counter tracks, used only in log lines.
	Label string

	mu      sync.Mutex
	samples []int
	count   int // number of valid samples recorded so far, capped at len(samples)
	next    int // index the next record() will write to
	sum     int64
}

// NewRollingAverageCounter creates a counter that averages over the most
// recent sampleSize recorded values. sampleSize must be >= 1.
func NewRollingAverageCounter(sampleSize int, label string) (*RollingAverageCounter, error) {
	if sampleSize < 1 {
		return nil, fmt.Errorf("%w: sampleSize must be > 0, got %d", ErrConfigInvalid, sampleSize)
	}
	return &RollingAverageCounter{
		Label:   label,
		samples: make([]int, sampleSize),
	}, nil
}

// Record adds value to the set of tracked samples, evicting the oldest
// sample once the counter is at capacity.
func (c *RollingAverageCounter) Record(value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == len(c.samples) {
		c.sum -= int64(c.samples[c.next])
	} else {
		c.count++
	}
	c.samples[c.next] = value
	c.sum += int64(value)
	c.next = (c.next + 1) % len(c.samples)
}

// Value returns the mean of the currently tracked samples, or 0 if no
// sample has been recorded yet.
func (c *RollingAverageCounter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return 0
	}
	return float64(c.sum) / float64(c.count)
}

// RollingRateCounter is a fixed-capacity ring buffer of event timestamps
// that reports the rate of events per second over its current window. It
// corresponds to the original filter's RateCounter.
type RollingRateCounter struct {
	// Label describes what this counter tracks, used only in log lines.
	Label string

	mu      sync.Mutex
	samples []time.Time
	count   int
	next    int
}

// NewRollingRateCounter creates a counter that computes a rate over the
// most recent sampleSize recorded events. sampleSize must be >= 1.
func NewRollingRateCounter(sampleSize int, label string) (*RollingRateCounter, error) {
	if sampleSize < 1 {
		return nil, fmt.Errorf("%w: sampleSize must be > 0, got %d", ErrConfigInvalid, sampleSize)
	}
	return &RollingRateCounter{
		Label:   label,
		samples: make([]time.Time, sampleSize),
	}, nil
}

// Record marks the occurrence of one event at the current time.
func (c *RollingRateCounter) Record() {
	c.now()
}

// now records the current wall time. Tests use a deterministic clock by
// calling recordAt directly; production code always goes through Record.
func (c *RollingRateCounter) now() {
	c.recordAt(time.Now())
}

func (c *RollingRateCounter) recordAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count < len(c.samples) {
		c.count++
	}
	c.samples[c.next] = t
	c.next = (c.next + 1) % len(c.samples)
}

// Value returns events-per-second over the currently tracked window, or 0
// if fewer than two events have been recorded or they share one timestamp.
func (c *RollingRateCounter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count < 2 {
		return 0
	}
	oldestIdx := (c.next - c.count + len(c.samples)) % len(c.samples)
	newestIdx := (c.next - 1 + len(c.samples)) % len(c.samples)
	span := c.samples[newestIdx].Sub(c.samples[oldestIdx])
	if span <= 0 {
		return 0
	}
	return float64(c.count) / span.Seconds()
}

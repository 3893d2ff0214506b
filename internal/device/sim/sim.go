// Package sim provides simulated counting and analog-output channels so the
// control loop can run without acquisition hardware.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/cemctl/internal/device"
	"codeberg.org/mutker/cemctl/internal/errors"
)

const (
	outputMin = -10.0
	outputMax = 10.0

	// above this mean the Poisson draw is approximated by a normal one
	normalApproxMean = 30.0
)

// Counter is a simulated edge counter fed by a Poisson pulse source.
type Counter struct {
	name  string
	rate  float64
	count uint64
	last  time.Time
	armed bool
	rng   *rand.Rand
	now   func() time.Time
	mu    sync.Mutex
}

// NewCounter returns a counter producing pulses at a mean of rate per second.
func NewCounter(name string, rate float64, seed int64) *Counter {
	return &Counter{
		name: name,
		rate: rate,
		rng:  rand.New(rand.NewSource(seed)),
		now:  time.Now,
	}
}

func (c *Counter) Arm(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.armed = true
	c.count = 0
	c.last = c.now()

	return nil
}

func (c *Counter) ReadCumulative(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return 0, errors.New().WithData(device.ErrNotArmed, device.OpError{Op: "read", Channel: c.name})
	}

	now := c.now()
	mean := c.rate * now.Sub(c.last).Seconds()
	c.last = now
	c.count += c.poisson(mean)

	return c.count, nil
}

func (c *Counter) Disarm(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.armed = false

	return nil
}

// SetRate changes the mean pulse rate.
func (c *Counter) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate = rate
}

// Reset zeroes the register the way a task restart does.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count = 0
}

func (c *Counter) poisson(mean float64) uint64 {
	if mean <= 0 {
		return 0
	}

	if mean > normalApproxMean {
		n := math.Round(mean + math.Sqrt(mean)*c.rng.NormFloat64())
		if n < 0 {
			return 0
		}
		return uint64(n)
	}

	// Knuth
	limit := math.Exp(-mean)
	var k uint64
	for p := c.rng.Float64(); p > limit; p *= c.rng.Float64() {
		k++
	}

	return k
}

// Output is a simulated analog output that remembers the last voltage.
type Output struct {
	name   string
	volts  float64
	writes int
	closed bool
	mu     sync.Mutex
}

func NewOutput(name string) *Output {
	return &Output{name: name}
}

func (o *Output) Write(_ context.Context, volts float64) error {
	errFactory := errors.New()
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errFactory.WithData(device.ErrNotArmed, device.OpError{Op: "write", Channel: o.name})
	}
	if volts < outputMin || volts > outputMax {
		return errFactory.WithData(errors.ErrInvalidArgument, "voltage out of range")
	}

	o.volts = volts
	o.writes++

	return nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true

	return nil
}

// Volts returns the last voltage written.
func (o *Output) Volts() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volts
}

// Writes returns how many writes succeeded.
func (o *Output) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

// Package sampler turns a cumulative hardware edge counter into paced
// (delta, elapsed) pairs.
package sampler

import "time"

type State int

const (
	Unarmed State = iota
	Armed
	Stopped
)

func (s State) String() string {
	switch s {
	case Unarmed:
		return "unarmed"
	case Armed:
		return "armed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CounterSample is one reading of the cumulative counter.
type CounterSample struct {
	Count     uint64
	Timestamp time.Time
}

// Delta is the change between two consecutive readings. Elapsed is the
// measured time between the readings, not the requested pace.
type Delta struct {
	Count         int64
	Elapsed       time.Duration
	Discontinuity bool
	Sample        CounterSample
}

// Discontinuity is attached to ErrCounterDiscontinuity errors.
type Discontinuity struct {
	Channel  string
	Previous uint64
	Current  uint64
}

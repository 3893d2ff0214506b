package telemetry

import (
	"context"
	"time"
)

// Collector receives control loop events. Implementations must be safe for
// concurrent use by several loops.
type Collector interface {
	Record(ctx context.Context, event *Event) error
	Close() error
}

// Kind classifies an Event
type Kind string

const (
	KindTick          Kind = "tick"
	KindSaturating    Kind = "saturating"
	KindRangeChanged  Kind = "range_changed"
	KindDiscontinuity Kind = "discontinuity"
)

// IsValid returns whether the kind is one of the known event kinds
func (k Kind) IsValid() bool {
	switch k {
	case KindTick, KindSaturating, KindRangeChanged, KindDiscontinuity:
		return true
	default:
		return false
	}
}

// Event is one observation of a control loop tick
type Event struct {
	Pair                  string        `json:"pair"`
	Kind                  Kind          `json:"kind"`
	Timestamp             time.Time     `json:"timestamp"`
	InstantaneousRate     float64       `json:"instantaneous_rate"`
	SmoothedRate          float64       `json:"smoothed_rate"`
	CommandVoltage        float64       `json:"command_voltage"`
	FullScaleRate         float64       `json:"full_scale_rate"`
	PreviousFullScaleRate float64       `json:"previous_full_scale_rate"`
	SaturationStrikes     int           `json:"saturation_strikes"`
	DeltaCount            int64         `json:"delta_count"`
	Elapsed               time.Duration `json:"elapsed_ns"`
}

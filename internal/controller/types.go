package controller

import (
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
)

// Config holds the construction-time constants of a controller.
type Config struct {
	SmoothingTimeConstant time.Duration
	InitialFullScaleRate  float64
	StrikesToRescale      int
	VMax                  float64
}

// ConfigError names the offending field of a rejected Config.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.SmoothingTimeConstant <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, ConfigError{
			Field: "smoothing_time_constant", Value: c.SmoothingTimeConstant, Reason: "must be positive",
		})
	case !(c.InitialFullScaleRate > 0):
		return errFactory.WithData(errors.ErrInvalidConfig, ConfigError{
			Field: "initial_full_scale_rate", Value: c.InitialFullScaleRate, Reason: "must be positive",
		})
	case c.StrikesToRescale < 1:
		return errFactory.WithData(errors.ErrInvalidConfig, ConfigError{
			Field: "strikes_to_rescale", Value: c.StrikesToRescale, Reason: "must be at least 1",
		})
	case !(c.VMax > 0):
		return errFactory.WithData(errors.ErrInvalidConfig, ConfigError{
			Field: "v_max", Value: c.VMax, Reason: "must be positive",
		})
	}

	return nil
}

type RateEstimate struct {
	Instantaneous float64
	Smoothed      float64
	LastUpdate    time.Time
}

// RangeState is the controller's gain: FullScaleRate maps to VMax.
type RangeState struct {
	FullScaleRate     float64
	SaturationStrikes int
	StrikesToRescale  int
}

type AnalogCommand struct {
	Voltage float64
	Clamped bool
}

// Tick is the outcome of one controller update.
type Tick struct {
	Rate    RateEstimate
	Range   RangeState
	Command AnalogCommand

	// Saturating is set whenever the command sits at VMax.
	Saturating bool
	// Rescaled is set when this tick doubled the full-scale rate.
	Rescaled              bool
	PreviousFullScaleRate float64
	// Held ticks left the smoothed rate and range untouched.
	Held bool
}

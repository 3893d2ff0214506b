// Package controller turns (delta, elapsed) counter samples into a smoothed
// rate and a bounded analog command whose full scale grows when the command
// keeps saturating.
package controller

import (
	"math"
	"time"
)

// Strike thresholds above this are only partially decayed after a rescale.
const partialDecayThreshold = 10

type Controller struct {
	cfg   Config
	rate  RateEstimate
	state RangeState
	now   func() time.Time
}

func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Controller{
		cfg: cfg,
		state: RangeState{
			FullScaleRate:    cfg.InitialFullScaleRate,
			StrikesToRescale: cfg.StrikesToRescale,
		},
		now: time.Now,
	}, nil
}

// Update folds one sample into the smoothed rate. The smoothing factor is
// recomputed from the measured elapsed time on every call. Non-positive
// elapsed or negative deltas are held.
func (c *Controller) Update(delta int64, elapsed time.Duration) Tick {
	if elapsed <= 0 || delta < 0 {
		return c.Hold(elapsed)
	}

	dt := elapsed.Seconds()
	instantaneous := float64(delta) / dt
	alpha := 1 - math.Exp(-dt/c.cfg.SmoothingTimeConstant.Seconds())

	c.rate.Instantaneous = instantaneous
	c.rate.Smoothed = alpha*instantaneous + (1-alpha)*c.rate.Smoothed
	c.rate.LastUpdate = c.now()

	cmd := c.command()
	tick := Tick{
		Command:               cmd,
		Saturating:            cmd.Voltage == c.cfg.VMax,
		PreviousFullScaleRate: c.state.FullScaleRate,
	}

	if tick.Saturating {
		c.state.SaturationStrikes++
	} else {
		c.state.SaturationStrikes = 0
	}

	if c.state.SaturationStrikes == c.state.StrikesToRescale {
		c.state.FullScaleRate *= 2
		c.state.SaturationStrikes = decayStrikes(c.state.StrikesToRescale)
		tick.Rescaled = true
	}

	tick.Rate = c.rate
	tick.Range = c.state

	return tick
}

// Hold re-issues the command for the current smoothed rate without touching
// the estimate or the range. It is used for zero-length intervals and counter
// discontinuities.
func (c *Controller) Hold(_ time.Duration) Tick {
	c.rate.Instantaneous = 0
	cmd := c.command()

	return Tick{
		Rate:                  c.rate,
		Range:                 c.state,
		Command:               cmd,
		Saturating:            cmd.Voltage == c.cfg.VMax,
		PreviousFullScaleRate: c.state.FullScaleRate,
		Held:                  true,
	}
}

// Snapshot returns the current estimate and range.
func (c *Controller) Snapshot() (RateEstimate, RangeState) {
	return c.rate, c.state
}

func (c *Controller) VMax() float64 {
	return c.cfg.VMax
}

func (c *Controller) command() AnalogCommand {
	v := c.rate.Smoothed / c.state.FullScaleRate * c.cfg.VMax

	switch {
	case v >= c.cfg.VMax:
		return AnalogCommand{Voltage: c.cfg.VMax, Clamped: v > c.cfg.VMax}
	case v < 0 || math.IsNaN(v):
		return AnalogCommand{Voltage: 0, Clamped: true}
	}

	return AnalogCommand{Voltage: v}
}

// decayStrikes returns the strike count left after a rescale. Thresholds
// above partialDecayThreshold keep all but a twentieth of their strikes.
func decayStrikes(threshold int) int {
	if threshold > partialDecayThreshold {
		return max(0, threshold-threshold/20)
	}

	return 0
}

// Package feedback runs the closed control loop of one counter/analog-output
// pair: sample, estimate, command, actuate, record, pace.
package feedback

import (
	"context"
	"time"

	"codeberg.org/mutker/cemctl/internal/controller"
	"codeberg.org/mutker/cemctl/internal/device"
	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
	"codeberg.org/mutker/cemctl/internal/sampler"
	"codeberg.org/mutker/cemctl/internal/telemetry"
)

const defaultDeviceTimeout = 10 * time.Second

// Config holds the per-pair loop settings.
type Config struct {
	Pair          string
	Output        string
	TickPacing    time.Duration
	SampleRate    float64
	DeviceTimeout time.Duration
}

// Diagnostics is attached to the error a failed loop returns.
type Diagnostics struct {
	Pair          string
	SmoothedRate  float64
	FullScaleRate float64
	Ticks         uint64
}

type Loop struct {
	cfg     Config
	sampler *sampler.Sampler
	ctrl    *controller.Controller
	output  device.AnalogOutput
	sink    telemetry.Collector
	log     logger.Logger
	ticks   uint64
}

// New returns a loop owning s and out: both are released when Run returns.
// A nil sink discards events.
func New(cfg Config, s *sampler.Sampler, c *controller.Controller, out device.AnalogOutput, sink telemetry.Collector, log logger.Logger) *Loop {
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = defaultDeviceTimeout
	}
	if sink == nil {
		sink = telemetry.Multi()
	}

	return &Loop{
		cfg:     cfg,
		sampler: s,
		ctrl:    c,
		output:  out,
		sink:    sink,
		log:     log,
	}
}

// Run executes ticks until ctx is done, returning nil, or until a device
// error or timeout, returning an ErrLoopFailed error carrying Diagnostics.
// On return the output has been driven to 0 V and the sampler stopped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	if l.sampler.State() == sampler.Unarmed {
		if err := l.sampler.Start(ctx); err != nil {
			return l.fail(ctx, err)
		}
	}

	_, rng := l.ctrl.Snapshot()
	l.log.Info().
		Float64("full_scale_rate", rng.FullScaleRate).
		Float64("sample_rate", l.cfg.SampleRate).
		Dur("tick_pacing", l.cfg.TickPacing).
		Msg("Control loop started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.tick(ctx); err != nil {
			return l.fail(ctx, err)
		}

		if !l.sleep(ctx) {
			return nil
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	delta, err := l.sampler.ReadDelta(ctx, l.cfg.SampleRate)

	var t controller.Tick
	switch {
	case err == nil:
		t = l.ctrl.Update(delta.Count, delta.Elapsed)
	case errors.HasCode(err, errors.ErrCounterDiscontinuity):
		t = l.ctrl.Hold(delta.Elapsed)
		l.record(ctx, telemetry.KindDiscontinuity, delta, t)
	default:
		return err
	}

	if err := l.write(ctx, t.Command.Voltage); err != nil {
		return err
	}
	l.ticks++

	l.record(ctx, telemetry.KindTick, delta, t)
	if t.Saturating {
		l.record(ctx, telemetry.KindSaturating, delta, t)
	}
	if t.Rescaled {
		l.record(ctx, telemetry.KindRangeChanged, delta, t)
	}

	return nil
}

func (l *Loop) write(ctx context.Context, volts float64) error {
	op := device.OpError{Op: "write", Channel: l.cfg.Output}

	return device.Do(ctx, l.cfg.DeviceTimeout, op, func(ctx context.Context) error {
		return l.output.Write(ctx, volts)
	})
}

// record hands the event to the sink. Sink failures never stop the loop.
func (l *Loop) record(ctx context.Context, kind telemetry.Kind, d sampler.Delta, t controller.Tick) {
	ev := &telemetry.Event{
		Pair:                  l.cfg.Pair,
		Kind:                  kind,
		Timestamp:             d.Sample.Timestamp,
		InstantaneousRate:     t.Rate.Instantaneous,
		SmoothedRate:          t.Rate.Smoothed,
		CommandVoltage:        t.Command.Voltage,
		FullScaleRate:         t.Range.FullScaleRate,
		PreviousFullScaleRate: t.PreviousFullScaleRate,
		SaturationStrikes:     t.Range.SaturationStrikes,
		DeltaCount:            d.Count,
		Elapsed:               d.Elapsed,
	}

	if err := l.sink.Record(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to record event")
	}
}

func (l *Loop) sleep(ctx context.Context) bool {
	if l.cfg.TickPacing <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(l.cfg.TickPacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fail turns err into the loop's terminal error. Cancellation is not a
// failure.
func (l *Loop) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}

	rate, rng := l.ctrl.Snapshot()
	diag := Diagnostics{
		Pair:          l.cfg.Pair,
		SmoothedRate:  rate.Smoothed,
		FullScaleRate: rng.FullScaleRate,
		Ticks:         l.ticks,
	}

	return errors.New().Wrap(errors.ErrLoopFailed, err).WithData(diag)
}

// shutdown zeroes the output and releases both channels. Each call is
// bounded by DeviceTimeout alone.
func (l *Loop) shutdown() {
	ctx := context.Background()

	if err := l.write(ctx, 0); err != nil {
		l.log.ErrorWithCode(err).Msg("Failed to zero analog output")
	}
	if err := l.output.Close(); err != nil {
		l.log.ErrorWithCode(err).Msg("Failed to close analog output")
	}
	if err := l.sampler.Stop(ctx); err != nil {
		l.log.ErrorWithCode(err).Msg("Failed to stop sampler")
	}

	l.log.Info().Uint64("ticks", l.ticks).Msg("Control loop stopped")
}

// Package telemetry carries control loop events to observability sinks: the
// structured log, a SQLite recorder, MQTT and Kafka.
package telemetry

import (
	"context"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/logger"
)

type logCollector struct {
	log logger.Logger
}

// NewLogCollector returns a Collector writing events to log. Ticks are
// logged at debug level.
func NewLogCollector(log logger.Logger) Collector {
	return &logCollector{log: log}
}

func (c *logCollector) Record(_ context.Context, event *Event) error {
	if event == nil {
		return errors.New().New(ErrInvalidEvent)
	}

	var (
		ev  *logger.LogEvent
		msg string
	)
	switch event.Kind {
	case KindSaturating:
		ev, msg = c.log.Warn(), "Analogue out saturating"
	case KindRangeChanged:
		ev, msg = c.log.Info(), "Full scale rate doubled"
	case KindDiscontinuity:
		ev, msg = c.log.Warn(), "Counter discontinuity"
	default:
		ev, msg = c.log.Debug(), "Tick"
	}

	ev.Str("pair", event.Pair).
		Float64("rate", event.InstantaneousRate).
		Float64("smoothed_rate", event.SmoothedRate).
		Float64("voltage", event.CommandVoltage).
		Float64("full_scale_rate", event.FullScaleRate).
		Int("strikes", event.SaturationStrikes)

	if event.Kind == KindRangeChanged {
		ev.Float64("previous_full_scale_rate", event.PreviousFullScaleRate)
	}

	ev.Msg(msg)

	return nil
}

func (c *logCollector) Close() error {
	return nil
}

type multi struct {
	collectors []Collector
}

// Multi fans events out to every collector. A failing collector does not
// keep the event from the others.
func Multi(collectors ...Collector) Collector {
	return &multi{collectors: collectors}
}

func (m *multi) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, c := range m.collectors {
		if err := c.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New().Wrap(ErrRecordEvent, errors.Join(errs...))
	}

	return nil
}

func (m *multi) Close() error {
	var errs []error
	for _, c := range m.collectors {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New().Wrap(ErrStorageClose, errors.Join(errs...))
	}

	return nil
}

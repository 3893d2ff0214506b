package sampler

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/cemctl/internal/device"
	"codeberg.org/mutker/cemctl/internal/errors"
	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

type Sampler struct {
	ch      device.CountingChannel
	name    string
	timeout time.Duration
	now     func() time.Time

	state   State
	last    CounterSample
	total   uint64
	limiter *rate.Limiter
	paceHz  float64
}

type Option func(*Sampler)

// WithTimeout bounds each call into the counting channel.
func WithTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		s.timeout = d
	}
}

// WithName labels device errors with the channel name.
func WithName(name string) Option {
	return func(s *Sampler) {
		s.name = name
	}
}

func New(ch device.CountingChannel, opts ...Option) *Sampler {
	s := &Sampler{
		ch:      ch,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start arms the channel and takes the baseline reading that the first
// ReadDelta is measured against.
func (s *Sampler) Start(ctx context.Context) error {
	errFactory := errors.New()

	if s.state != Unarmed {
		return errFactory.WithData(errors.ErrInvalidState, s.state.String())
	}

	err := device.Do(ctx, s.timeout, s.op("arm"), s.ch.Arm)
	if err != nil {
		return err
	}

	count, err := device.Call(ctx, s.timeout, s.op("read"), s.ch.ReadCumulative)
	if err != nil {
		return err
	}

	s.last = CounterSample{Count: count, Timestamp: s.now()}
	s.state = Armed

	return nil
}

// ReadDelta reads the counter and returns the change since the previous
// read. With paceHz > 0 it first waits until 1/paceHz has passed since the
// previous read. A counter that went backwards yields a zero delta flagged
// as a discontinuity together with an ErrCounterDiscontinuity error; the new
// value becomes the baseline for the next read.
func (s *Sampler) ReadDelta(ctx context.Context, paceHz float64) (Delta, error) {
	errFactory := errors.New()

	if s.state != Armed {
		return Delta{}, errFactory.WithData(errors.ErrInvalidState, s.state.String())
	}

	if paceHz > 0 {
		if err := s.wait(ctx, paceHz); err != nil {
			return Delta{}, err
		}
	} else {
		s.limiter = nil
	}

	count, err := device.Call(ctx, s.timeout, s.op("read"), s.ch.ReadCumulative)
	if err != nil {
		return Delta{}, err
	}

	prev := s.last
	s.last = CounterSample{Count: count, Timestamp: s.now()}
	elapsed := s.last.Timestamp.Sub(prev.Timestamp)

	if count < prev.Count || count-prev.Count > math.MaxInt64 {
		return Delta{Elapsed: elapsed, Discontinuity: true, Sample: s.last},
			errFactory.WithData(errors.ErrCounterDiscontinuity, Discontinuity{
				Channel:  s.name,
				Previous: prev.Count,
				Current:  count,
			})
	}

	diff := count - prev.Count
	s.total += diff

	return Delta{Count: int64(diff), Elapsed: elapsed, Sample: s.last}, nil
}

// wait blocks until the pacing interval since the previous read has passed.
func (s *Sampler) wait(ctx context.Context, paceHz float64) error {
	switch {
	case s.limiter == nil:
		s.limiter = rate.NewLimiter(rate.Limit(paceHz), 1)
		// the previous read holds the only token
		s.limiter.ReserveN(s.last.Timestamp, 1)
	case paceHz != s.paceHz:
		s.limiter.SetLimitAt(s.now(), rate.Limit(paceHz))
	}
	s.paceHz = paceHz

	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New().Wrap(errors.ErrTimeout, err)
	}

	return nil
}

// Stop disarms the channel. It is safe to call more than once; a stopped
// sampler cannot be started again.
func (s *Sampler) Stop(ctx context.Context) error {
	if s.state == Stopped {
		return nil
	}

	wasArmed := s.state == Armed
	s.state = Stopped
	s.limiter = nil

	if !wasArmed {
		return nil
	}

	return device.Do(ctx, s.timeout, s.op("disarm"), s.ch.Disarm)
}

func (s *Sampler) Close() error {
	return s.Stop(context.Background())
}

func (s *Sampler) State() State {
	return s.state
}

// Last returns the most recent reading.
func (s *Sampler) Last() CounterSample {
	return s.last
}

// Total returns the counts accumulated since Start, excluding readings that
// straddled a discontinuity.
func (s *Sampler) Total() uint64 {
	return s.total
}

func (s *Sampler) op(name string) device.OpError {
	return device.OpError{Op: name, Channel: s.name}
}

package device

import "context"

// CountingChannel is a hardware edge counter. ReadCumulative returns the
// number of edges seen since the channel was armed.
type CountingChannel interface {
	Arm(ctx context.Context) error
	ReadCumulative(ctx context.Context) (uint64, error)
	Disarm(ctx context.Context) error
}

// AnalogOutput drives a single analog output channel.
type AnalogOutput interface {
	Write(ctx context.Context, volts float64) error
	Close() error
}

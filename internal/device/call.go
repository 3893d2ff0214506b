package device

import (
	"context"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
)

type result[T any] struct {
	val T
	err error
}

// Call runs fn with a deadline of timeout. Drivers that ignore their context
// are abandoned when the deadline passes; the overrun is reported as
// ErrTickTimeout. Other failures are wrapped as ErrDevice. Cancellation of
// ctx itself is returned unchanged.
func Call[T any](ctx context.Context, timeout time.Duration, op OpError, fn func(context.Context) (T, error)) (T, error) {
	errFactory := errors.New()
	var zero T

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.val, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if callCtx.Err() != nil {
			return zero, errFactory.Wrap(ErrTickTimeout, r.err).WithData(op)
		}
		return zero, errFactory.Wrap(ErrDevice, r.err).WithData(op)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errFactory.Wrap(ErrTickTimeout, callCtx.Err()).WithData(op)
	}
}

// Do is Call for operations without a result.
func Do(ctx context.Context, timeout time.Duration, op OpError, fn func(context.Context) error) error {
	_, err := Call(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

package sampler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/cemctl/internal/device"
	"codeberg.org/mutker/cemctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChannel replays a fixed list of cumulative values and then keeps
// returning the last one.
type scriptedChannel struct {
	mu       sync.Mutex
	values   []uint64
	reads    int
	armErr   error
	readErr  error
	block    chan struct{}
	disarmed int
}

func (c *scriptedChannel) Arm(context.Context) error { return c.armErr }

func (c *scriptedChannel) ReadCumulative(context.Context) (uint64, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readErr != nil {
		return 0, c.readErr
	}
	i := c.reads
	if i >= len(c.values) {
		i = len(c.values) - 1
	}
	c.reads++

	return c.values[i], nil
}

func (c *scriptedChannel) Disarm(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmed++
	return nil
}

type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (f *fakeClock) now() time.Time {
	f.t = f.t.Add(f.step)
	return f.t
}

func newTestSampler(ch device.CountingChannel, step time.Duration) *Sampler {
	s := New(ch, WithName("ctr1"), WithTimeout(time.Second))
	clk := &fakeClock{t: time.Unix(1000, 0), step: step}
	s.now = clk.now
	return s
}

func TestResetSequence(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{100, 100, 50, 80}}
	s := newTestSampler(ch, 100*time.Millisecond)
	require.NoError(t, s.Start(ctx))

	d, err := s.ReadDelta(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Count)
	assert.Equal(t, 100*time.Millisecond, d.Elapsed)

	d, err = s.ReadDelta(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCounterDiscontinuity))
	assert.True(t, d.Discontinuity)
	assert.Equal(t, int64(0), d.Count)
	assert.Equal(t, uint64(50), d.Sample.Count)

	var coded errors.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, Discontinuity{Channel: "ctr1", Previous: 100, Current: 50}, coded.GetData())

	d, err = s.ReadDelta(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), d.Count)
	assert.False(t, d.Discontinuity)
	assert.Equal(t, uint64(30), s.Total())
}

func TestImmediateRereadIsZero(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{7}}
	s := newTestSampler(ch, time.Microsecond)
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 2; i++ {
		d, err := s.ReadDelta(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), d.Count)
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{0, 5}}
	s := newTestSampler(ch, time.Millisecond)

	_, err := s.ReadDelta(ctx, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
	assert.Equal(t, Unarmed, s.State())

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, Armed, s.State())
	assert.True(t, errors.HasCode(s.Start(ctx), errors.ErrInvalidState))

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Close())
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 1, ch.disarmed)

	_, err = s.ReadDelta(ctx, 0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidState))
	assert.True(t, errors.HasCode(s.Start(ctx), errors.ErrInvalidState))
}

func TestCloseUnarmed(t *testing.T) {
	ch := &scriptedChannel{values: []uint64{0}}
	s := newTestSampler(ch, time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, ch.disarmed)
}

func TestArmFailure(t *testing.T) {
	ch := &scriptedChannel{values: []uint64{0}, armErr: stderrors.New("resource reserved")}
	s := newTestSampler(ch, time.Millisecond)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrDevice))
	assert.Equal(t, Unarmed, s.State())
}

func TestReadFailure(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{0}}
	s := newTestSampler(ch, time.Millisecond)
	require.NoError(t, s.Start(ctx))

	ch.readErr = stderrors.New("device removed")
	_, err := s.ReadDelta(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrDevice))
}

func TestReadTimeout(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{0}}
	s := New(ch, WithTimeout(20*time.Millisecond))
	require.NoError(t, s.Start(ctx))

	ch.block = make(chan struct{})
	defer close(ch.block)

	_, err := s.ReadDelta(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTickTimeout))
}

func TestPacedReadWaitsForInterval(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{0, 10, 20, 30}}
	s := New(ch)
	require.NoError(t, s.Start(ctx))

	const pace = 50.0 // 20ms
	for i := 0; i < 3; i++ {
		d, err := s.ReadDelta(ctx, pace)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Elapsed, 15*time.Millisecond)
		assert.Equal(t, int64(10), d.Count)
	}
}

func TestPacedReadSkipsWaitWhenLate(t *testing.T) {
	ctx := context.Background()
	ch := &scriptedChannel{values: []uint64{0, 1}}
	s := New(ch)
	require.NoError(t, s.Start(ctx))

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	_, err := s.ReadDelta(ctx, 50)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 15*time.Millisecond)
}

func TestPacedReadCancellable(t *testing.T) {
	ch := &scriptedChannel{values: []uint64{0}}
	s := New(ch)
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.ReadDelta(ctx, 0.1) // 10 s interval
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestResolve(t *testing.T) {
	f := New[int]()
	assert.False(t, f.Settled())

	require.NoError(t, f.Resolve(42))
	assert.True(t, f.Settled())

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// waiting again yields the same value
	v, err = f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestReject(t *testing.T) {
	boom := errors.New("boom")
	f := New[string]()
	require.NoError(t, f.Reject(boom))

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRejectNil(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.Reject(nil))
	_, err := f.Wait(context.Background())
	assert.Error(t, err)
}

func TestSecondSettleIsReported(t *testing.T) {
	f := New[int]()
	require.NoError(t, f.Resolve(1))
	assert.ErrorIs(t, f.Resolve(2), ErrSettled)
	assert.ErrorIs(t, f.Reject(errors.New("late")), ErrSettled)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestManyWaiters(t *testing.T) {
	f := New[int]()
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			v, err := f.Wait(ctx)
			if err != nil {
				return err
			}
			if v != 7 {
				return errors.New("unexpected value")
			}
			return nil
		})
	}
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.Resolve(7))
	require.NoError(t, group.Wait())
}

func TestWaitContextDone(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Settled())
}

func TestPresettled(t *testing.T) {
	v, err := Resolved("x").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	boom := errors.New("boom")
	_, err = Rejected[int](boom).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerExecutesTasks(t *testing.T) {
	r := NewRunner(2, 8)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, r.Submit("count", func(context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	require.NoError(t, r.Close(context.Background()))
	require.EqualValues(t, 5, count.Load())

	stats := r.Stats()
	require.EqualValues(t, 5, stats.Submitted)
	require.EqualValues(t, 5, stats.Completed)
}

func TestRunnerIsolatesFailures(t *testing.T) {
	r := NewRunner(1, 8)
	var ran atomic.Bool
	r.Submit("boom", func(context.Context) error { panic("kaboom") })
	r.Submit("err", func(context.Context) error { return errors.New("s3 down") })
	r.Submit("ok", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, r.Close(context.Background()))
	require.True(t, ran.Load())

	stats := r.Stats()
	require.EqualValues(t, 2, stats.Failed)
	require.EqualValues(t, 1, stats.Completed)
}

func TestRunnerDropsWhenFull(t *testing.T) {
	r := NewRunner(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, r.Submit("hold", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.True(t, r.Submit("queued", func(context.Context) error { return nil }))

	begin := time.Now()
	require.False(t, r.Submit("dropped", func(context.Context) error { return nil }))
	require.Less(t, time.Since(begin), 100*time.Millisecond)
	require.EqualValues(t, 1, r.Stats().Dropped)

	close(block)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunnerRejectsAfterClose(t *testing.T) {
	r := NewRunner(1, 1)
	require.NoError(t, r.Close(context.Background()))
	require.False(t, r.Submit("late", func(context.Context) error { return nil }))
	require.ErrorIs(t, r.Close(context.Background()), ErrClosed)
}

func TestRunnerCloseDeadlineCancelsTasks(t *testing.T) {
	r := NewRunner(1, 1)
	require.True(t, r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

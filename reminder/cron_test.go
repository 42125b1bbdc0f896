package reminder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindlab/remind/core"
)

func TestRunnerFiresImmediatelyAndPeriodically(t *testing.T) {
	runner := NewRunner(nil)
	var ticks atomic.Int32

	err := runner.Add("counter", 20*time.Millisecond, JobFunc(func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	time.Sleep(70 * time.Millisecond)
	runner.Stop()

	got := ticks.Load()
	assert.GreaterOrEqual(t, got, int32(2), "expected the immediate tick plus at least one interval tick")
}

func TestRunnerStopWaitsForInflightTick(t *testing.T) {
	runner := NewRunner(nil)
	started := make(chan struct{})
	var finished atomic.Bool

	err := runner.Add("slow", time.Hour, JobFunc(func(ctx context.Context) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	<-started
	runner.Stop()
	assert.True(t, finished.Load(), "Stop returned before the in-flight tick finished")
}

func TestRunnerRejectsLateAdd(t *testing.T) {
	runner := NewRunner(nil)
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	err := runner.Add("late", time.Second, JobFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, core.ErrAlreadyStarted)

	assert.ErrorIs(t, runner.Start(context.Background()), core.ErrAlreadyStarted)
}

func TestRunnerRejectsBadInterval(t *testing.T) {
	runner := NewRunner(nil)
	err := runner.Add("bad", 0, JobFunc(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestRunnerAbsorbsJobErrors(t *testing.T) {
	runner := NewRunner(nil)
	var ticks atomic.Int32

	err := runner.Add("flaky", 15*time.Millisecond, JobFunc(func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("tick failed")
	}))
	require.NoError(t, err)

	require.NoError(t, runner.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	runner.Stop()

	// Errors do not stop the schedule.
	assert.GreaterOrEqual(t, ticks.Load(), int32(2))
}

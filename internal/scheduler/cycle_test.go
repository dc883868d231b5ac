package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCycleSchedulerValidation(t *testing.T) {
	_, err := NewCycleScheduler(context.Background(), 0, "14:55", time.UTC)
	assert.Error(t, err)

	_, err = NewCycleScheduler(context.Background(), time.Second, "1455", time.UTC)
	assert.Error(t, err)

	s, err := NewCycleScheduler(context.Background(), time.Second, "14:55", nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
}

func TestPastCloseBoundary(t *testing.T) {
	s, err := NewCycleScheduler(context.Background(), time.Second, "14:55", time.UTC)
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.False(t, s.pastClose(day.Add(14*time.Hour+54*time.Minute+59*time.Second)))
	assert.True(t, s.pastClose(day.Add(14*time.Hour+55*time.Minute)))
	assert.True(t, s.pastClose(day.Add(15*time.Hour)))
}

func TestStartTriggersSquareOffPastClose(t *testing.T) {
	s, err := NewCycleScheduler(context.Background(), 5*time.Millisecond, "14:55", time.UTC)
	require.NoError(t, err)
	s.RunImmediately = true
	s.nowFn = func() time.Time {
		return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	}

	var cycles, squares atomic.Int32
	s.Start(
		func() { cycles.Add(1) },
		func() { squares.Add(1) },
	)

	// 到点后直接清仓终止，常规周期一次都不会跑。
	assert.Equal(t, int32(0), cycles.Load())
	assert.Equal(t, int32(1), squares.Load())
	assert.Equal(t, StateStopped, s.State())

	count, _, _ := s.Stats()
	assert.Equal(t, int64(0), count)
}

func TestStartRunsCyclesUntilStopped(t *testing.T) {
	s, err := NewCycleScheduler(context.Background(), 2*time.Millisecond, "23:59", time.UTC)
	require.NoError(t, err)
	s.RunImmediately = true

	var cycles atomic.Int32
	var squares atomic.Int32
	s.Start(
		func() {
			if cycles.Add(1) >= 3 {
				s.Stop()
			}
		},
		func() { squares.Add(1) },
	)

	assert.GreaterOrEqual(t, cycles.Load(), int32(3))
	assert.Equal(t, int32(0), squares.Load(), "显式 Stop 不触发清仓")
	assert.Equal(t, StateStopped, s.State())

	count, last, next := s.Stats()
	assert.GreaterOrEqual(t, count, int64(3))
	assert.False(t, last.IsZero())
	assert.True(t, next.After(last))
}

func TestStopCancelsPendingTimer(t *testing.T) {
	s, err := NewCycleScheduler(context.Background(), time.Hour, "23:59", time.UTC)
	require.NoError(t, err)
	s.RunImmediately = true

	var cycles atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(func() { cycles.Add(1) }, nil)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cycles.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop 未能取消待触发的下一轮")
	}
	assert.Equal(t, int32(1), cycles.Load())
	assert.Equal(t, StateStopped, s.State())
}

func TestInFlightCycleRunsToCompletion(t *testing.T) {
	s, err := NewCycleScheduler(context.Background(), time.Hour, "23:59", time.UTC)
	require.NoError(t, err)
	s.RunImmediately = true

	finished := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Start(func() {
			s.Stop()
			time.Sleep(20 * time.Millisecond)
			close(finished)
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("调度器未退出")
	}
	select {
	case <-finished:
	default:
		t.Fatal("进行中的一轮被打断")
	}
}

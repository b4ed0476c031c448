package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/keybox-sentinel/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type switchProbe struct {
	met atomic.Bool
}

func (p *switchProbe) Check(ctx context.Context, c interfaces.Constraints) error {
	if p.met.Load() {
		return nil
	}
	return ErrConstraintsUnmet
}

func newTestScheduler(t *testing.T, probe ConditionProbe) *TimerScheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTimerScheduler(probe, 20*time.Millisecond, logger)
	t.Cleanup(s.Stop)
	return s
}

func TestTimerSchedulerRunsJob(t *testing.T) {
	s := newTestScheduler(t, nil)

	done := make(chan struct{})
	s.Enqueue("check", 10*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Eventually(t, func() bool {
		_, ok := s.Pending("check")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestTimerSchedulerReplacesPending(t *testing.T) {
	s := newTestScheduler(t, nil)

	var first, second atomic.Int32
	s.Enqueue("check", 50*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { first.Inc() })
	s.Enqueue("check", 10*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { second.Inc() })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestTimerSchedulerSlotsAreIndependent(t *testing.T) {
	s := newTestScheduler(t, nil)

	var a, b atomic.Int32
	s.Enqueue("a", 10*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { a.Inc() })
	s.Enqueue("b", 10*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { b.Inc() })

	assert.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestTimerSchedulerCancel(t *testing.T) {
	s := newTestScheduler(t, nil)

	var ran atomic.Int32
	s.Enqueue("check", 30*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { ran.Inc() })
	s.Cancel("check")

	_, ok := s.Pending("check")
	assert.False(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())

	// Cancelling an empty slot is a no-op.
	s.Cancel("check")
}

func TestTimerSchedulerPending(t *testing.T) {
	s := newTestScheduler(t, nil)

	before := time.Now()
	s.Enqueue("check", time.Hour, interfaces.Constraints{}, func(ctx context.Context) {})

	due, ok := s.Pending("check")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Hour), due, time.Second)

	_, ok = s.Pending("other")
	assert.False(t, ok)
}

func TestTimerSchedulerDefersUntilConstraintsHold(t *testing.T) {
	probe := &switchProbe{}
	s := newTestScheduler(t, probe)

	var ran atomic.Int32
	s.Enqueue("check", 0, interfaces.Constraints{RequireCharging: true}, func(ctx context.Context) { ran.Inc() })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	_, ok := s.Pending("check")
	assert.True(t, ok, "deferred job keeps its slot")

	probe.met.Store(true)
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), ran.Load())
}

func TestTimerSchedulerRecoversPanics(t *testing.T) {
	s := newTestScheduler(t, nil)

	s.Enqueue("check", 0, interfaces.Constraints{}, func(ctx context.Context) { panic("boom") })

	done := make(chan struct{})
	time.Sleep(20 * time.Millisecond)
	s.Enqueue("check", 10*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler stopped working after a panic")
	}
}

func TestTimerSchedulerStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTimerScheduler(nil, 0, logger)

	var ran atomic.Int32
	s.Enqueue("check", 20*time.Millisecond, interfaces.Constraints{}, func(ctx context.Context) { ran.Inc() })
	s.Stop()

	_, ok := s.Pending("check")
	assert.False(t, ok)

	s.Enqueue("check", 0, interfaces.Constraints{}, func(ctx context.Context) { ran.Inc() })
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestTimerSchedulerStopWaitsForRunningJob(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewTimerScheduler(nil, 0, logger)

	started := make(chan struct{})
	var finished atomic.Bool
	var jobErr error
	s.Enqueue("check", 0, interfaces.Constraints{}, func(ctx context.Context) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		jobErr = ctx.Err()
		finished.Store(true)
	})
	<-started

	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the running job")
	assert.NoError(t, jobErr, "running job was interrupted")
	assert.Error(t, s.ctx.Err())
}

package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostdash/cachetier/logger"
	"github.com/hostdash/cachetier/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil)
	require.NoError(t, err)
	return m
}

func TestAdd_Validation(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.Add("", "* * * * * *", func() {}), types.ErrSweepScheduleInvalid)
	assert.ErrorIs(t, m.Add("job", "", func() {}), types.ErrSweepScheduleInvalid)
	assert.ErrorIs(t, m.Add("job", "* * * * * *", nil), types.ErrSweepScheduleInvalid)
	assert.ErrorIs(t, m.Add("job", "not a cron spec", func() {}), types.ErrSweepScheduleInvalid)
}

func TestAdd_RejectsDuplicateNames(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Add("sweep", "0 */10 * * * *", func() {}))
	assert.ErrorIs(t, m.Add("sweep", "0 */5 * * * *", func() {}), types.ErrSweepJobExists)
}

func TestLifecycle(t *testing.T) {
	m := newTestManager(t)

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrManagerAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrManagerNotRunning)
}

func TestAdd_AfterStop(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())

	assert.ErrorIs(t, m.Add("late", "* * * * * *", func() {}), types.ErrSweepSchedulerStopped)
}

func TestJob_RunsOnSchedule(t *testing.T) {
	m := newTestManager(t)

	var runs int64
	require.NoError(t, m.Add("tick", "* * * * * *", func() {
		atomic.AddInt64(&runs, 1)
	}))

	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 1
	}, 3*time.Second, 50*time.Millisecond)

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
}

func TestJob_PanicDoesNotKillScheduler(t *testing.T) {
	m := newTestManager(t)

	var after int64
	require.NoError(t, m.Add("explode", "* * * * * *", func() {
		if atomic.AddInt64(&after, 1) == 1 {
			panic("boom")
		}
	}))

	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&after) >= 2
	}, 4*time.Second, 50*time.Millisecond, "scheduler must survive a panicking job")
}

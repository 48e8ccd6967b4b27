package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostdash/cachetier/connection"
	"github.com/hostdash/cachetier/executor"
	"github.com/hostdash/cachetier/logger"
	"github.com/hostdash/cachetier/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func testJanitorConfig() *types.JanitorConfig {
	return &types.JanitorConfig{
		Enabled:   true,
		Schedule:  "0 */10 * * * *",
		ScanBatch: 100,
	}
}

func newTestJanitor(t *testing.T, store *connection.MockStoreClient) *Janitor {
	t.Helper()

	exec, err := executor.NewWithSleeper(testLogger(), &types.RetryConfig{
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
		Backoff: &types.BackoffConfig{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Factor:       1.0,
		},
	}, connection.NewStaticManager(store), nil, func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
	require.NoError(t, err)

	j, err := New(testLogger(), testJanitorConfig(), exec, nil)
	require.NoError(t, err)
	return j
}

func emptyNamespace(store *connection.MockStoreClient, namespace string) {
	store.On("Scan", mock.Anything, uint64(0), namespace+":*", int64(100)).
		Return([]string{}, uint64(0), nil)
}

func TestNew_Validation(t *testing.T) {
	exec, err := executor.New(testLogger(), &types.RetryConfig{
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
		Backoff:        &types.BackoffConfig{MaxAttempts: 1, Factor: 1.0},
	}, connection.NewStaticManager(nil), nil)
	require.NoError(t, err)

	_, err = New(testLogger(), nil, exec, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))

	_, err = New(testLogger(), &types.JanitorConfig{ScanBatch: 0}, exec, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))

	_, err = New(testLogger(), testJanitorConfig(), nil, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestSweep_DeletesOnlyOrphans(t *testing.T) {
	store := connection.NewMockStoreClient()

	// Three session keys: one without expiry, one already gone, one live.
	store.On("Scan", mock.Anything, uint64(0), "session:*", int64(100)).
		Return([]string{"session:a", "session:b", "session:c"}, uint64(0), nil)
	store.On("TTLBatch", mock.Anything, []string{"session:a", "session:b", "session:c"}).
		Return([]int64{-1, -2, 300}, nil)
	store.On("Del", mock.Anything, []string{"session:a", "session:b"}).
		Return(int64(2), nil)

	for _, ns := range types.Namespaces() {
		if ns != types.NamespaceSession {
			emptyNamespace(store, ns)
		}
	}

	j := newTestJanitor(t, store)

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Scanned)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Equal(t, len(types.Namespaces()), result.Namespaces)
	store.AssertExpectations(t)
}

func TestSweep_ReportsStoreDeleteCount(t *testing.T) {
	store := connection.NewMockStoreClient()

	// Both keys qualify for deletion, but one expires on its own before the
	// DEL lands, so the store only removes one.
	store.On("Scan", mock.Anything, uint64(0), "session:*", int64(100)).
		Return([]string{"session:a", "session:b"}, uint64(0), nil)
	store.On("TTLBatch", mock.Anything, []string{"session:a", "session:b"}).
		Return([]int64{-1, -2}, nil)
	store.On("Del", mock.Anything, []string{"session:a", "session:b"}).
		Return(int64(1), nil)

	for _, ns := range types.Namespaces() {
		if ns != types.NamespaceSession {
			emptyNamespace(store, ns)
		}
	}

	j := newTestJanitor(t, store)

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deleted, "the store's reply is the deleted count")
}

func TestSweep_LiveKeysUntouched(t *testing.T) {
	store := connection.NewMockStoreClient()

	store.On("Scan", mock.Anything, uint64(0), "session:*", int64(100)).
		Return([]string{"session:a"}, uint64(0), nil)
	store.On("TTLBatch", mock.Anything, []string{"session:a"}).
		Return([]int64{60}, nil)

	for _, ns := range types.Namespaces() {
		if ns != types.NamespaceSession {
			emptyNamespace(store, ns)
		}
	}

	j := newTestJanitor(t, store)

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Deleted)
	store.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
}

func TestSweep_FollowsCursor(t *testing.T) {
	store := connection.NewMockStoreClient()

	store.On("Scan", mock.Anything, uint64(0), "session:*", int64(100)).
		Return([]string{"session:a"}, uint64(42), nil)
	store.On("Scan", mock.Anything, uint64(42), "session:*", int64(100)).
		Return([]string{"session:b"}, uint64(0), nil)
	store.On("TTLBatch", mock.Anything, []string{"session:a"}).Return([]int64{10}, nil)
	store.On("TTLBatch", mock.Anything, []string{"session:b"}).Return([]int64{10}, nil)

	for _, ns := range types.Namespaces() {
		if ns != types.NamespaceSession {
			emptyNamespace(store, ns)
		}
	}

	j := newTestJanitor(t, store)

	result, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Scanned)
}

func TestSweep_NamespaceFailureDoesNotStopOthers(t *testing.T) {
	store := connection.NewMockStoreClient()

	store.On("Scan", mock.Anything, uint64(0), "session:*", int64(100)).
		Return(nil, uint64(0), assertAnError())
	for _, ns := range types.Namespaces() {
		if ns != types.NamespaceSession {
			emptyNamespace(store, ns)
		}
	}

	j := newTestJanitor(t, store)

	_, err := j.Sweep(context.Background())
	require.Error(t, err, "the first namespace failure is reported")

	for _, ns := range types.Namespaces() {
		store.AssertCalled(t, "Scan", mock.Anything, uint64(0), ns+":*", int64(100))
	}
}

func TestRegister_DisabledJanitorAddsNothing(t *testing.T) {
	store := connection.NewMockStoreClient()
	j := newTestJanitor(t, store)
	j.config.Enabled = false

	scheduler := &recordingScheduler{}
	require.NoError(t, j.Register(scheduler))
	assert.Empty(t, scheduler.added)
}

func TestRegister_AddsSweepJob(t *testing.T) {
	store := connection.NewMockStoreClient()
	j := newTestJanitor(t, store)

	scheduler := &recordingScheduler{}
	require.NoError(t, j.Register(scheduler))
	require.Len(t, scheduler.added, 1)
	assert.Equal(t, SweepJobName, scheduler.added[0].name)
	assert.Equal(t, j.config.Schedule, scheduler.added[0].spec)
}

type addedJob struct {
	name string
	spec string
}

type recordingScheduler struct {
	added []addedJob
}

func (r *recordingScheduler) Start() error    { return nil }
func (r *recordingScheduler) Stop() error     { return nil }
func (r *recordingScheduler) IsRunning() bool { return true }

func (r *recordingScheduler) Add(name, spec string, job func()) error {
	r.added = append(r.added, addedJob{name: name, spec: spec})
	return nil
}

func assertAnError() error {
	return types.NewOperationError("scan failed", nil)
}

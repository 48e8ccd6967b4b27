package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hostdash/cachetier/connection"
	"github.com/hostdash/cachetier/logger"
	"github.com/hostdash/cachetier/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func testRetryConfig() *types.RetryConfig {
	return &types.RetryConfig{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		Backoff: &types.BackoffConfig{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     time.Second,
			Factor:       2.0,
		},
	}
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestExecutor(t *testing.T, conn types.ConnectionManager) *Executor {
	t.Helper()
	e, err := NewWithSleeper(testLogger(), testRetryConfig(), conn, nil, noSleep)
	require.NoError(t, err)
	return e
}

func TestNew_ValidatesConfig(t *testing.T) {
	conn := connection.NewStaticManager(nil)

	tests := []struct {
		name   string
		config *types.RetryConfig
	}{
		{"nil config", nil},
		{"zero attempts", &types.RetryConfig{AttemptTimeout: time.Second, Backoff: &types.BackoffConfig{}}},
		{"no timeout", &types.RetryConfig{MaxAttempts: 1, Backoff: &types.BackoffConfig{}}},
		{"no backoff", &types.RetryConfig{MaxAttempts: 1, AttemptTimeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testLogger(), tt.config, conn, nil)
			assert.True(t, types.IsKind(err, types.KindInvalidConfig))
		})
	}

	_, err := New(testLogger(), testRetryConfig(), nil, nil)
	assert.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestRun_Success(t *testing.T) {
	store := connection.NewMockStoreClient()
	e := newTestExecutor(t, connection.NewStaticManager(store))

	var calls int
	got, err := Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		assert.Same(t, types.StoreClient(store), client)
		return "value", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.Equal(t, 1, calls)
}

func TestRun_NotReadyFailsWithoutAttempt(t *testing.T) {
	conn := connection.NewStaticManager(connection.NewMockStoreClient())
	conn.SetState(types.StateReconnecting)
	e := newTestExecutor(t, conn)

	var calls int
	_, err := Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		return "", nil
	})

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNotConnected))
	assert.Equal(t, 0, calls, "operations must not reach the store while not ready")
}

func TestRun_NotReadyEmitsSingleFailureLog(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	conn := connection.NewStaticManager(connection.NewMockStoreClient())
	conn.SetState(types.StateReconnecting)

	e, err := NewWithSleeper(logger.NewZapWrapper(zap.New(core)), testRetryConfig(), conn, nil, noSleep)
	require.NoError(t, err)

	_, err = Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		return "", nil
	})
	require.Error(t, err)

	entries := logs.FilterMessage("Operation failed").All()
	require.Len(t, entries, 1, "readiness rejection gets exactly one error entry")

	fields := entries[0].ContextMap()
	assert.Equal(t, "get", fields["operation"])
	assert.Equal(t, int64(0), fields["retries"])
	assert.Equal(t, types.KindNotConnected.String(), fields["kind"])
	assert.Contains(t, fields, "duration")
}

func TestRun_RetriesTransportFailures(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	got, err := Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "recovered", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, 3, calls)
}

func TestRun_ExhaustsAttemptBudget(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	_, err := Run(context.Background(), e, "set", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		return "", errors.New("i/o timeout")
	})

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConnectionError))
	assert.Equal(t, 3, calls)
}

func TestRun_OperationErrorsAreNotRetried(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	_, err := Run(context.Background(), e, "set", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		return "", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	})

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindOperationError))
	assert.Equal(t, 1, calls, "a malformed request cannot succeed on retry")
}

func TestRun_AuthErrorsAreNotRetried(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	_, err := Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		return "", errors.New("NOAUTH Authentication required")
	})

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAuthenticationError))
	assert.Equal(t, 1, calls)
}

func TestRun_MissPassesThrough(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	_, err := Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		return "", types.ErrKeyNotFound
	})

	assert.ErrorIs(t, err, types.ErrKeyNotFound)
	assert.Equal(t, 1, calls)
	_, classified := types.ErrorKindOf(err)
	assert.False(t, classified, "a miss must not be wrapped in the error taxonomy")
}

func TestRun_AttemptTimeoutBoundsEachTry(t *testing.T) {
	config := testRetryConfig()
	config.MaxAttempts = 2
	config.AttemptTimeout = 20 * time.Millisecond

	e, err := NewWithSleeper(testLogger(), config, connection.NewStaticManager(connection.NewMockStoreClient()), nil, noSleep)
	require.NoError(t, err)

	var calls int
	start := time.Now()
	_, err = Run(context.Background(), e, "slow", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConnectionError), "attempt timeout is a transport-class failure")
	assert.Equal(t, 2, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRun_ParentCancellationStopsRetrying(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := Run(ctx, e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		calls++
		cancel()
		return "", errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts after the caller gives up")
}

func TestRun_BackoffDelaysBetweenAttempts(t *testing.T) {
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}

	config := testRetryConfig()
	e, err := NewWithSleeper(testLogger(), config, connection.NewStaticManager(connection.NewMockStoreClient()), nil, sleep)
	require.NoError(t, err)

	_, _ = Run(context.Background(), e, "get", func(ctx context.Context, client types.StoreClient) (string, error) {
		return "", errors.New("broken pipe")
	})

	require.Len(t, delays, 2)
	assert.Equal(t, config.Backoff.Delay(1), delays[0])
	assert.Equal(t, config.Backoff.Delay(2), delays[1])
}

func TestExecute_WrapsValuelessOperations(t *testing.T) {
	e := newTestExecutor(t, connection.NewStaticManager(connection.NewMockStoreClient()))

	var calls int
	err := e.Execute(context.Background(), "del", func(ctx context.Context, client types.StoreClient) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

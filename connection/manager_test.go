package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostdash/cachetier/logger"
	"github.com/hostdash/cachetier/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func testRedisConfig() *types.RedisConfig {
	return &types.RedisConfig{
		Host:     "localhost",
		Port:     6379,
		PoolSize: 10,
		Reconnect: &types.BackoffConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Factor:       2.0,
		},
	}
}

// recordingSleeper captures requested delays and returns immediately.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func readyStore() *MockStoreClient {
	store := NewMockStoreClient()
	store.On("Ping", mock.Anything).Return(nil)
	store.On("Close").Return(nil)
	return store
}

func TestNewManager_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *types.RedisConfig
	}{
		{"nil config", nil},
		{"empty host", &types.RedisConfig{Port: 6379, Reconnect: &types.BackoffConfig{MaxAttempts: 1}}},
		{"port out of range", &types.RedisConfig{Host: "localhost", Port: 70000, Reconnect: &types.BackoffConfig{MaxAttempts: 1}}},
		{"missing reconnect", &types.RedisConfig{Host: "localhost", Port: 6379}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.config, testLogger())
			require.Error(t, err)
			assert.True(t, types.IsKind(err, types.KindInvalidConfig))
		})
	}
}

func TestConnect_FirstAttemptSucceeds(t *testing.T) {
	store := readyStore()
	sleeper := &recordingSleeper{}

	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, sleeper.sleep)
	require.NoError(t, err)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, types.StateReady, m.State())
	assert.True(t, m.Ready())
	assert.Equal(t, 0, m.Attempts())
	assert.Empty(t, sleeper.recorded())

	client, err := m.Client()
	require.NoError(t, err)
	assert.Same(t, types.StoreClient(store), client)
}

func TestConnect_RetriesWithExponentialBackoff(t *testing.T) {
	store := readyStore()
	sleeper := &recordingSleeper{}

	var dials int
	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return store, nil
	}

	config := testRedisConfig()
	m, err := NewManagerWithDialer(config, testLogger(), dial, sleeper.sleep)
	require.NoError(t, err)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, types.StateReady, m.State())
	assert.Equal(t, 3, dials)

	delays := sleeper.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, config.Reconnect.Delay(1), delays[0])
	assert.Equal(t, config.Reconnect.Delay(2), delays[1])
	assert.Greater(t, delays[1], delays[0])
}

func TestConnect_AttemptBudgetExhausted(t *testing.T) {
	sleeper := &recordingSleeper{}

	var dials int
	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		dials++
		return nil, errors.New("dial tcp: connection refused")
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, sleeper.sleep)
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConnectionError))
	assert.Equal(t, types.StateDisconnected, m.State())
	assert.Equal(t, 3, dials)
	assert.Len(t, sleeper.recorded(), 2)
	assert.Error(t, m.LastError())
}

func TestConnect_AuthFailureStopsRetrying(t *testing.T) {
	store := NewMockStoreClient()
	store.On("Ping", mock.Anything).Return(errors.New("WRONGPASS invalid username-password pair"))
	store.On("Close").Return(nil)
	sleeper := &recordingSleeper{}

	var dials int
	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		dials++
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, sleeper.sleep)
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindAuthenticationError))
	assert.Equal(t, types.StateDisconnected, m.State())
	assert.Equal(t, 1, dials, "credential rejections must not be retried")
	assert.Empty(t, sleeper.recorded())
}

func TestConnect_StateSequence(t *testing.T) {
	store := readyStore()

	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, (&recordingSleeper{}).sleep)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []types.Event
	m.Subscribe(func(e types.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, types.EventStateChanged, e.Kind)
		assert.False(t, e.At.IsZero())
	}
	assert.Equal(t, types.StateDisconnected, events[0].Prev)
	assert.Equal(t, types.StateConnecting, events[0].State)
	assert.Equal(t, types.StateConnected, events[1].State)
	assert.Equal(t, types.StateReady, events[2].State)
}

func TestClient_NotReady(t *testing.T) {
	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, (&recordingSleeper{}).sleep)
	require.NoError(t, err)

	client, clientErr := m.Client()
	assert.Nil(t, client)
	require.Error(t, clientErr)
	assert.True(t, types.IsKind(clientErr, types.KindNotConnected))

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestShutdown_IsTerminal(t *testing.T) {
	store := readyStore()

	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, (&recordingSleeper{}).sleep)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, types.StateDisconnected, m.State())
	store.AssertCalled(t, "Close")

	assert.ErrorIs(t, m.Connect(context.Background()), types.ErrShutdownInitiated)

	_, clientErr := m.Client()
	assert.True(t, types.IsKind(clientErr, types.KindNotConnected))

	require.NoError(t, m.Shutdown(context.Background()), "repeat shutdown is a no-op")
}

func TestReportFailure_TriggersReconnect(t *testing.T) {
	store := readyStore()

	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, (&recordingSleeper{}).sleep)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	m.ReportFailure(types.NewConnectionError("store transport failure", errors.New("broken pipe")))

	require.Eventually(t, func() bool {
		return m.State() == types.StateReady
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestReportFailure_IgnoresNonTransportErrors(t *testing.T) {
	store := readyStore()

	dial := func(config *types.RedisConfig) (types.StoreClient, error) {
		return store, nil
	}

	m, err := NewManagerWithDialer(testRedisConfig(), testLogger(), dial, (&recordingSleeper{}).sleep)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	m.ReportFailure(types.NewOperationError("bad payload", nil))
	assert.Equal(t, types.StateReady, m.State())
}

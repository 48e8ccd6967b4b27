package connection

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hostdash/cachetier/types"
)

// MockStoreClient is a testify mock of types.StoreClient, shared by the
// packages that test against the store surface.
type MockStoreClient struct {
	mock.Mock
}

func NewMockStoreClient() *MockStoreClient {
	return &MockStoreClient{}
}

func (m *MockStoreClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStoreClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStoreClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockStoreClient) Del(ctx context.Context, keys ...string) (int64, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStoreClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStoreClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *MockStoreClient) TTL(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStoreClient) TTLBatch(ctx context.Context, keys []string) ([]int64, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockStoreClient) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	args := m.Called(ctx, cursor, match, count)
	var keys []string
	if args.Get(0) != nil {
		keys = args.Get(0).([]string)
	}
	return keys, args.Get(1).(uint64), args.Error(2)
}

func (m *MockStoreClient) LPush(ctx context.Context, key string, values ...string) error {
	args := m.Called(ctx, key, values)
	return args.Error(0)
}

func (m *MockStoreClient) LTrim(ctx context.Context, key string, start, stop int64) error {
	args := m.Called(ctx, key, start, stop)
	return args.Error(0)
}

func (m *MockStoreClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	args := m.Called(ctx, key, start, stop)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStoreClient) Info(ctx context.Context, sections ...string) (string, error) {
	args := m.Called(ctx, sections)
	return args.String(0), args.Error(1)
}

func (m *MockStoreClient) DBSize(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStoreClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// StaticManager pins a store client in the Ready state. It satisfies
// types.ConnectionManager for tests of components that sit above the
// connection layer.
type StaticManager struct {
	client types.StoreClient
	state  types.ConnState
}

func NewStaticManager(client types.StoreClient) *StaticManager {
	return &StaticManager{client: client, state: types.StateReady}
}

func (s *StaticManager) SetState(state types.ConnState) { s.state = state }

func (s *StaticManager) Connect(ctx context.Context) error  { return nil }
func (s *StaticManager) Shutdown(ctx context.Context) error { return nil }
func (s *StaticManager) State() types.ConnState             { return s.state }
func (s *StaticManager) Ready() bool                        { return s.state == types.StateReady }
func (s *StaticManager) Attempts() int                      { return 0 }
func (s *StaticManager) LastError() error                   { return nil }
func (s *StaticManager) Subscribe(types.EventHandler)       {}

func (s *StaticManager) Client() (types.StoreClient, error) {
	if s.state != types.StateReady {
		return nil, types.NewNotConnectedError("connection is " + s.state.String())
	}
	return s.client, nil
}

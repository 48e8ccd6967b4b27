package connection

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostdash/cachetier/types"
)

// Manager drives the connection state machine. It owns the single store
// handle for the process and is the only component allowed to change the
// connection state.
type Manager struct {
	config *types.RedisConfig
	logger types.Logger
	dial   Dialer
	sleep  types.Sleeper

	state    atomic.Int32
	attempts atomic.Int32

	mu       sync.RWMutex
	client   types.StoreClient
	lastErr  error
	shutdown bool

	handlersMu sync.RWMutex
	handlers   []types.EventHandler

	reconnecting atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewManager(config *types.RedisConfig, logger types.Logger) (*Manager, error) {
	return NewManagerWithDialer(config, logger, DialRedis, types.SleepWithContext)
}

// NewManagerWithDialer injects the transport and clock dependencies. Tests
// use it to drive the state machine against a fake store without sleeping.
func NewManagerWithDialer(config *types.RedisConfig, logger types.Logger, dial Dialer, sleep types.Sleeper) (*Manager, error) {
	if config == nil {
		return nil, types.NewInvalidConfigError("redis config is nil", nil)
	}
	if config.Host == "" {
		return nil, types.NewInvalidConfigError("redis host is empty", nil)
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, types.NewInvalidConfigError("redis port out of range", nil)
	}
	if config.Reconnect == nil {
		return nil, types.NewInvalidConfigError("reconnect backoff config is required", nil)
	}

	m := &Manager{
		config: config,
		logger: logger,
		dial:   dial,
		sleep:  sleep,
		stopCh: make(chan struct{}),
	}
	m.state.Store(int32(types.StateDisconnected))

	return m, nil
}

func (m *Manager) State() types.ConnState {
	return types.ConnState(m.state.Load())
}

func (m *Manager) Ready() bool {
	return m.State() == types.StateReady
}

func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Client returns the live store handle. It never blocks: when the manager is
// Disconnected it kicks off a background connect and reports NotConnected so
// the caller can fall back immediately.
func (m *Manager) Client() (types.StoreClient, error) {
	state := m.State()
	if state == types.StateReady {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.client != nil {
			return m.client, nil
		}
		state = m.State()
	}

	if state == types.StateDisconnected {
		m.triggerReconnect()
	}

	return nil, types.NewNotConnectedError("connection is " + state.String()).
		WithMetadata("state", state.String())
}

func (m *Manager) Subscribe(handler types.EventHandler) {
	if handler == nil {
		return
	}
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Connect drives the state machine toward Ready, spending the reconnect
// attempt budget. It blocks until the readiness probe succeeds, the budget
// is exhausted, or ctx ends.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return types.ErrShutdownInitiated
	}
	m.mu.Unlock()

	switch m.State() {
	case types.StateReady:
		return nil
	case types.StateConnecting, types.StateConnected, types.StateReconnecting:
		return types.NewNotConnectedError("connect already in progress")
	}

	return m.connectLoop(ctx)
}

// connectLoop is the single reconnection policy. Each cycle walks
// Connecting -> Connected -> Ready; on failure it parks in Error, waits out
// the backoff, passes through Reconnecting and tries again.
func (m *Manager) connectLoop(ctx context.Context) error {
	backoff := m.config.Reconnect

	for attempt := 1; attempt <= backoff.MaxAttempts; attempt++ {
		m.attempts.Store(int32(attempt))
		m.setState(types.StateConnecting, nil)

		err := m.tryConnect(ctx)
		if err == nil {
			m.attempts.Store(0)
			return nil
		}

		classified := types.Classify(err)
		m.setState(types.StateError, classified)
		m.logger.Warn("Connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", backoff.MaxAttempts),
			zap.String("kind", classified.Kind.String()),
			zap.Error(classified),
		)

		if classified.Kind == types.KindAuthenticationError {
			m.setState(types.StateDisconnected, classified)
			return classified
		}

		if attempt == backoff.MaxAttempts {
			break
		}

		if err := m.waitBackoff(ctx, backoff.Delay(attempt)); err != nil {
			m.setState(types.StateDisconnected, err)
			return types.NewConnectionError("connect aborted during backoff", err)
		}
		m.setState(types.StateReconnecting, nil)
	}

	exhausted := types.NewConnectionError("reconnect attempt budget exhausted", m.LastError()).
		WithMetadata("attempts", strconv.Itoa(backoff.MaxAttempts))
	m.setState(types.StateDisconnected, exhausted)
	return exhausted
}

// tryConnect performs one transport dial plus readiness probe.
func (m *Manager) tryConnect(ctx context.Context) error {
	client, err := m.dial(m.config)
	if err != nil {
		return err
	}

	m.setState(types.StateConnected, nil)

	pingCtx := ctx
	if m.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, m.config.DialTimeout)
		defer cancel()
	}

	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return err
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		_ = client.Close()
		return types.ErrShutdownInitiated
	}
	old := m.client
	m.client = client
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	m.setState(types.StateReady, nil)
	m.logger.Info("Connection ready",
		zap.String("host", m.config.Host),
		zap.Int("port", m.config.Port),
		zap.Int("db", m.config.DB),
	)
	return nil
}

func (m *Manager) waitBackoff(ctx context.Context, delay time.Duration) error {
	select {
	case <-m.stopCh:
		return types.ErrShutdownInitiated
	default:
	}
	return m.sleep(ctx, delay)
}

// ReportFailure is the executor's signal that a live connection broke mid
// operation. The manager drops to Error and starts the background
// reconnection loop. Non-transport failures are ignored.
func (m *Manager) ReportFailure(err error) {
	if !types.Retryable(err) {
		return
	}
	if m.State() != types.StateReady {
		return
	}

	m.setState(types.StateError, err)
	m.logger.Warn("Live connection lost, scheduling reconnect", zap.Error(err))
	m.triggerReconnect()
}

// triggerReconnect starts at most one background connect loop.
func (m *Manager) triggerReconnect() {
	m.mu.RLock()
	stopped := m.shutdown
	m.mu.RUnlock()
	if stopped {
		return
	}

	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.reconnecting.Store(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-m.stopCh
			cancel()
		}()

		if err := m.connectLoop(ctx); err != nil {
			m.logger.Error("Background reconnect failed", zap.Error(err))
		}
	}()
}

// Shutdown makes the manager terminal. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	client := m.client
	m.client = nil
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown timed out waiting for reconnect loop")
	}

	m.setState(types.StateDisconnected, nil)

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("Error closing store client", zap.Error(err))
			return types.Classify(err)
		}
	}

	m.logger.Info("Connection manager shut down")
	return nil
}

// setState records the transition, remembers the error that caused it, and
// notifies subscribers. Handlers run synchronously; they must not block.
func (m *Manager) setState(next types.ConnState, cause error) {
	prev := types.ConnState(m.state.Swap(int32(next)))

	if cause != nil {
		m.mu.Lock()
		m.lastErr = cause
		m.mu.Unlock()
	}

	if prev == next {
		return
	}

	m.logger.Debug("Connection state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)

	m.emit(types.Event{
		Kind:  types.EventStateChanged,
		At:    time.Now(),
		Prev:  prev,
		State: next,
		Err:   cause,
	})
}

func (m *Manager) emit(event types.Event) {
	m.handlersMu.RLock()
	handlers := make([]types.EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

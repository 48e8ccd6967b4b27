package types

import (
	"context"
	"time"
)

// ConnState is the connection manager's state machine position. Ready is the
// only state in which operations are permitted.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReady
	StateReconnecting
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind is the closed enumeration of observability events the cache tier
// emits. Consumers register typed handlers; there are no string event names.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventMetricsUpdated
	EventMemoryWarning
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventMetricsUpdated:
		return "metrics_updated"
	case EventMemoryWarning:
		return "memory_warning"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	At       time.Time
	Prev     ConnState
	State    ConnState
	Err      error
	Snapshot *MetricsSnapshot
	Memory   *MemoryWarning
}

// MemoryWarning carries the ratio and raw figures behind a memory warning
// event. Advisory only; never blocks operations.
type MemoryWarning struct {
	Ratio      float64
	UsedBytes  int64
	LimitBytes int64
}

type EventHandler func(Event)

type EventSource interface {
	Subscribe(handler EventHandler)
}

// ConnectionManager owns the single shared store connection for the process.
type ConnectionManager interface {
	EventSource

	// Connect drives the state machine toward Ready, blocking until the
	// readiness probe succeeds, the attempt budget is spent, or ctx ends.
	Connect(ctx context.Context) error

	// Shutdown closes the connection and makes the manager terminal. No
	// operation may be issued afterwards.
	Shutdown(ctx context.Context) error

	State() ConnState
	Ready() bool

	// Client returns the live store handle, or a NotConnected error when the
	// state machine is not Ready. It never blocks waiting for readiness.
	Client() (StoreClient, error)

	Attempts() int
	LastError() error
}

// StoreClient is the narrow command surface this tier needs from the store.
// The wire protocol underneath belongs to the client library.
type StoreClient interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL reports remaining seconds, -1 for keys without expiry and -2 for
	// missing keys, matching the store's convention.
	TTL(ctx context.Context, key string) (int64, error)
	TTLBatch(ctx context.Context, keys []string) ([]int64, error)

	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Info(ctx context.Context, sections ...string) (string, error)
	DBSize(ctx context.Context) (int64, error)

	Close() error
}

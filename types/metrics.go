package types

import (
	"time"
)

type MetricsManager interface {
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
	Expose() ([]byte, error)
}

type Counter interface {
	Inc()
	Add(value float64)
	Get() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Get() float64
}

type Histogram interface {
	Observe(value float64)
	ObserveDuration(start time.Time)
	GetCount() uint64
	GetSum() float64
}

// MetricsSnapshot is an immutable point-in-time view of the store's server
// statistics plus the rates derived from the previous poll.
type MetricsSnapshot struct {
	UsedMemoryBytes    int64   `json:"used_memory_bytes"`
	PeakMemoryBytes    int64   `json:"peak_memory_bytes"`
	MaxMemoryBytes     int64   `json:"max_memory_bytes"`
	FragmentationRatio float64 `json:"fragmentation_ratio"`
	EvictedKeys        int64   `json:"evicted_keys"`
	ConnectedClients   int64   `json:"connected_clients"`
	BlockedClients     int64   `json:"blocked_clients"`
	TotalCommands      int64   `json:"total_commands"`

	// InstantaneousOps is the store's own figure; OpsPerSecond is derived
	// from the TotalCommands delta between polls and is the one to trust.
	InstantaneousOps int64   `json:"instantaneous_ops"`
	OpsPerSecond     float64 `json:"ops_per_second"`

	KeyspaceHits   int64   `json:"keyspace_hits"`
	KeyspaceMisses int64   `json:"keyspace_misses"`
	HitRate        float64 `json:"hit_rate"`

	KeyCount    int64     `json:"key_count"`
	ConnState   ConnState `json:"conn_state"`
	CollectedAt time.Time `json:"collected_at"`
}

type StatsCollector interface {
	LifecycleManager
	EventSource
	Snapshot() MetricsSnapshot
}

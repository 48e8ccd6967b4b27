package metrics

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostdash/cachetier/types"
)

// Collector polls the store's server statistics on a fixed interval and
// derives the figures the raw INFO payload does not carry, most notably
// operations per second from the command counter delta. Polling is passive:
// when the connection is not Ready the cycle is skipped, never queued.
type Collector struct {
	logger types.Logger
	config *types.StatsConfig
	conn   types.ConnectionManager

	snapshot atomic.Pointer[types.MetricsSnapshot]

	prevMu    sync.Mutex
	prevTotal int64
	prevAt    time.Time

	handlersMu sync.RWMutex
	handlers   []types.EventHandler

	gauges collectorGauges

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// collectorGauges mirrors the latest snapshot into the prometheus registry.
// All fields are nil when no metrics manager was provided.
type collectorGauges struct {
	usedMemory    types.Gauge
	maxMemory     types.Gauge
	fragmentation types.Gauge
	evictedKeys   types.Gauge
	clients       types.Gauge
	blocked       types.Gauge
	opsPerSecond  types.Gauge
	hitRate       types.Gauge
	keyCount      types.Gauge
	connState     types.Gauge
}

func NewCollector(logger types.Logger, config *types.StatsConfig, conn types.ConnectionManager, mm types.MetricsManager) (*Collector, error) {
	if config == nil || config.PollInterval <= 0 {
		return nil, types.NewInvalidConfigError("stats poll interval must be positive", nil)
	}
	if conn == nil {
		return nil, types.NewInvalidConfigError("connection manager is required", nil)
	}

	c := &Collector{
		logger: logger,
		config: config,
		conn:   conn,
		stopCh: make(chan struct{}),
	}
	c.snapshot.Store(&types.MetricsSnapshot{ConnState: conn.State()})

	if mm != nil {
		c.gauges = collectorGauges{
			usedMemory:    mm.Gauge("store_used_memory_bytes", nil),
			maxMemory:     mm.Gauge("store_max_memory_bytes", nil),
			fragmentation: mm.Gauge("store_fragmentation_ratio", nil),
			evictedKeys:   mm.Gauge("store_evicted_keys", nil),
			clients:       mm.Gauge("store_connected_clients", nil),
			blocked:       mm.Gauge("store_blocked_clients", nil),
			opsPerSecond:  mm.Gauge("store_ops_per_second", nil),
			hitRate:       mm.Gauge("store_hit_rate_percent", nil),
			keyCount:      mm.Gauge("store_key_count", nil),
			connState:     mm.Gauge("store_conn_state", nil),
		}
	}

	return c, nil
}

func (c *Collector) Subscribe(handler types.EventHandler) {
	if handler == nil {
		return
	}
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Snapshot returns the most recent poll result. Before the first successful
// poll the snapshot is zero-valued apart from the connection state.
func (c *Collector) Snapshot() types.MetricsSnapshot {
	return *c.snapshot.Load()
}

func (c *Collector) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return types.ErrManagerAlreadyRunning
	}

	c.wg.Add(1)
	go c.pollLoop()

	c.logger.Info("Stats collector started",
		zap.Duration("poll_interval", c.config.PollInterval))
	return nil
}

func (c *Collector) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return types.ErrManagerNotRunning
	}

	close(c.stopCh)
	c.wg.Wait()

	c.logger.Info("Stats collector stopped")
	return nil
}

func (c *Collector) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *Collector) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.PollInterval)
			c.CollectOnce(ctx)
			cancel()
		}
	}
}

// CollectOnce runs a single poll cycle. Exposed so callers can prime the
// snapshot right after connect instead of waiting out the first interval.
func (c *Collector) CollectOnce(ctx context.Context) {
	if !c.conn.Ready() {
		c.logger.Debug("Skipping stats poll, connection not ready",
			zap.String("state", c.conn.State().String()))
		return
	}

	client, err := c.conn.Client()
	if err != nil {
		c.logger.Debug("Skipping stats poll, no client", zap.Error(err))
		return
	}

	info, err := client.Info(ctx, "memory", "stats", "clients")
	if err != nil {
		c.logger.Warn("Stats poll failed", zap.Error(err))
		return
	}

	keyCount, err := client.DBSize(ctx)
	if err != nil {
		c.logger.Warn("Key count poll failed", zap.Error(err))
		keyCount = c.snapshot.Load().KeyCount
	}

	snapshot := c.buildSnapshot(parseInfo(info), keyCount)
	c.snapshot.Store(&snapshot)
	c.mirror(snapshot)

	c.emit(types.Event{
		Kind:     types.EventMetricsUpdated,
		At:       snapshot.CollectedAt,
		State:    snapshot.ConnState,
		Snapshot: &snapshot,
	})

	c.checkMemoryPressure(snapshot)
}

func (c *Collector) buildSnapshot(fields map[string]string, keyCount int64) types.MetricsSnapshot {
	now := time.Now()

	snapshot := types.MetricsSnapshot{
		UsedMemoryBytes:    parseInt(fields, "used_memory"),
		PeakMemoryBytes:    parseInt(fields, "used_memory_peak"),
		MaxMemoryBytes:     parseInt(fields, "maxmemory"),
		FragmentationRatio: parseFloat(fields, "mem_fragmentation_ratio"),
		EvictedKeys:        parseInt(fields, "evicted_keys"),
		ConnectedClients:   parseInt(fields, "connected_clients"),
		BlockedClients:     parseInt(fields, "blocked_clients"),
		TotalCommands:      parseInt(fields, "total_commands_processed"),
		InstantaneousOps:   parseInt(fields, "instantaneous_ops_per_sec"),
		KeyspaceHits:       parseInt(fields, "keyspace_hits"),
		KeyspaceMisses:     parseInt(fields, "keyspace_misses"),
		KeyCount:           keyCount,
		ConnState:          c.conn.State(),
		CollectedAt:        now,
	}

	snapshot.HitRate = hitRate(snapshot.KeyspaceHits, snapshot.KeyspaceMisses)
	snapshot.OpsPerSecond = c.deriveOpsPerSecond(snapshot.TotalCommands, now)

	return snapshot
}

// deriveOpsPerSecond computes the command rate from the counter delta since
// the previous poll. The first poll, and any poll after a counter reset
// (store restart), reports zero.
func (c *Collector) deriveOpsPerSecond(total int64, now time.Time) float64 {
	c.prevMu.Lock()
	defer c.prevMu.Unlock()

	prevTotal, prevAt := c.prevTotal, c.prevAt
	c.prevTotal, c.prevAt = total, now

	if prevAt.IsZero() || total < prevTotal {
		return 0
	}

	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(total-prevTotal) / elapsed
}

// hitRate returns the keyspace hit percentage, zero when no lookups have
// happened yet.
func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100.0
}

func (c *Collector) checkMemoryPressure(snapshot types.MetricsSnapshot) {
	if c.config.MemoryWarnThreshold <= 0 {
		return
	}

	// Without a hard limit configured, peak usage is the best available
	// ceiling.
	limit := snapshot.MaxMemoryBytes
	if limit <= 0 {
		limit = snapshot.PeakMemoryBytes
	}
	if limit <= 0 {
		return
	}

	ratio := float64(snapshot.UsedMemoryBytes) / float64(limit)
	if ratio < c.config.MemoryWarnThreshold {
		return
	}

	warning := &types.MemoryWarning{
		Ratio:      ratio,
		UsedBytes:  snapshot.UsedMemoryBytes,
		LimitBytes: limit,
	}

	c.logger.Warn("Store memory pressure",
		zap.Float64("ratio", ratio),
		zap.Int64("used_bytes", warning.UsedBytes),
		zap.Int64("limit_bytes", warning.LimitBytes))

	c.emit(types.Event{
		Kind:   types.EventMemoryWarning,
		At:     snapshot.CollectedAt,
		State:  snapshot.ConnState,
		Memory: warning,
	})
}

func (c *Collector) mirror(snapshot types.MetricsSnapshot) {
	if c.gauges.usedMemory == nil {
		return
	}

	c.gauges.usedMemory.Set(float64(snapshot.UsedMemoryBytes))
	c.gauges.maxMemory.Set(float64(snapshot.MaxMemoryBytes))
	c.gauges.fragmentation.Set(snapshot.FragmentationRatio)
	c.gauges.evictedKeys.Set(float64(snapshot.EvictedKeys))
	c.gauges.clients.Set(float64(snapshot.ConnectedClients))
	c.gauges.blocked.Set(float64(snapshot.BlockedClients))
	c.gauges.opsPerSecond.Set(snapshot.OpsPerSecond)
	c.gauges.hitRate.Set(snapshot.HitRate)
	c.gauges.keyCount.Set(float64(snapshot.KeyCount))
	c.gauges.connState.Set(float64(snapshot.ConnState))
}

func (c *Collector) emit(event types.Event) {
	c.handlersMu.RLock()
	handlers := make([]types.EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// parseInfo splits an INFO payload into key/value pairs. Section headers,
// blank lines and lines without a separator are skipped.
func parseInfo(raw string) map[string]string {
	fields := make(map[string]string)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}

		fields[line[:idx]] = line[idx+1:]
	}

	return fields
}

func parseInt(fields map[string]string, key string) int64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(fields map[string]string, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hostdash/cachetier/executor"
	"github.com/hostdash/cachetier/types"
)

// SweepJobName identifies the janitor's entry in the scheduler.
const SweepJobName = "keyspace_sweep"

// SweepResult summarizes one pass over the cache namespaces.
type SweepResult struct {
	Scanned    int64
	Deleted    int64
	Namespaces int
	Duration   time.Duration
}

// Janitor removes keys that slipped through TTL assignment: keys with no
// expiry set and keys the store already reports as gone. Keys with a live
// TTL are left for the store to expire on its own.
type Janitor struct {
	logger  types.Logger
	config  *types.JanitorConfig
	exec    *executor.Executor
	metrics types.MetricsManager
}

func New(logger types.Logger, config *types.JanitorConfig, exec *executor.Executor, mm types.MetricsManager) (*Janitor, error) {
	if config == nil {
		return nil, types.NewInvalidConfigError("janitor config is nil", nil)
	}
	if config.ScanBatch < 1 {
		return nil, types.NewInvalidConfigError("janitor scan batch must be at least 1", nil)
	}
	if exec == nil {
		return nil, types.NewInvalidConfigError("executor is required", nil)
	}

	return &Janitor{
		logger:  logger,
		config:  config,
		exec:    exec,
		metrics: mm,
	}, nil
}

// Register wires the sweep into the scheduler. A disabled janitor registers
// nothing and reports no error.
func (j *Janitor) Register(scheduler types.Scheduler) error {
	if !j.config.Enabled {
		j.logger.Info("Keyspace janitor disabled")
		return nil
	}

	return scheduler.Add(SweepJobName, j.config.Schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Warn("Keyspace sweep aborted", zap.Error(err))
		}
	})
}

// Sweep walks every cache namespace once. A failure in one namespace does
// not stop the others; the first error is reported after the pass.
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	result := SweepResult{Namespaces: len(types.Namespaces())}

	var firstErr error
	for _, namespace := range types.Namespaces() {
		scanned, deleted, err := j.sweepNamespace(ctx, namespace)
		result.Scanned += scanned
		result.Deleted += deleted
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	result.Duration = time.Since(start)

	j.logger.Info("Keyspace sweep finished",
		zap.Int64("scanned", result.Scanned),
		zap.Int64("deleted", result.Deleted),
		zap.Duration("duration", result.Duration))

	j.recordSweep(result)

	return result, firstErr
}

type scanPage struct {
	keys   []string
	cursor uint64
}

func (j *Janitor) sweepNamespace(ctx context.Context, namespace string) (scanned, deleted int64, err error) {
	match := namespace + types.KeyDelimiter + "*"

	var cursor uint64
	for {
		page, err := executor.Run(ctx, j.exec, "janitor_scan",
			func(ctx context.Context, client types.StoreClient) (scanPage, error) {
				keys, next, err := client.Scan(ctx, cursor, match, j.config.ScanBatch)
				return scanPage{keys: keys, cursor: next}, err
			})
		if err != nil {
			return scanned, deleted, err
		}

		scanned += int64(len(page.keys))

		removed, err := j.deleteOrphans(ctx, namespace, page.keys)
		deleted += removed
		if err != nil {
			return scanned, deleted, err
		}

		cursor = page.cursor
		if cursor == 0 {
			return scanned, deleted, nil
		}
	}
}

// deleteOrphans removes the subset of keys with no expiry (-1) or that the
// store already dropped (-2). Anything with a live countdown stays.
func (j *Janitor) deleteOrphans(ctx context.Context, namespace string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ttls, err := executor.Run(ctx, j.exec, "janitor_ttl",
		func(ctx context.Context, client types.StoreClient) ([]int64, error) {
			return client.TTLBatch(ctx, keys)
		})
	if err != nil {
		return 0, err
	}

	orphans := make([]string, 0, len(keys))
	for i, ttl := range ttls {
		if i >= len(keys) {
			break
		}
		if ttl == -1 || ttl == -2 {
			orphans = append(orphans, keys[i])
		}
	}

	if len(orphans) == 0 {
		return 0, nil
	}

	deleted, err := executor.Run(ctx, j.exec, "janitor_del",
		func(ctx context.Context, client types.StoreClient) (int64, error) {
			return client.Del(ctx, orphans...)
		})
	if err != nil {
		return 0, err
	}

	j.logger.Debug("Removed orphaned keys",
		zap.String("namespace", namespace),
		zap.Int("candidates", len(orphans)),
		zap.Int64("deleted", deleted))

	// The store's reply is authoritative: a candidate can expire between
	// the TTL batch and the DEL.
	j.recordDeleted(namespace, deleted)

	return deleted, nil
}

func (j *Janitor) recordSweep(result SweepResult) {
	if j.metrics == nil {
		return
	}
	j.metrics.Counter("janitor_sweeps_total", nil).Inc()
	j.metrics.Counter("janitor_scanned_keys_total", nil).Add(float64(result.Scanned))
	j.metrics.Histogram("janitor_sweep_duration_seconds",
		[]float64{0.01, 0.1, 1, 10, 60}, nil).Observe(result.Duration.Seconds())
}

func (j *Janitor) recordDeleted(namespace string, count int64) {
	if j.metrics == nil {
		return
	}
	j.metrics.Counter("janitor_deleted_keys_total",
		map[string]string{"namespace": namespace}).Add(float64(count))
}

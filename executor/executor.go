package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostdash/cachetier/types"
)

// durationBuckets covers sub-millisecond in-memory hits through multi-second
// degraded attempts.
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Operation is one store interaction, given a live client and a context
// already bounded by the attempt timeout.
type Operation[T any] func(ctx context.Context, client types.StoreClient) (T, error)

// failureReporter lets the executor feed transport failures back to the
// connection layer without widening the ConnectionManager interface.
type failureReporter interface {
	ReportFailure(err error)
}

// Executor runs store operations under the retry policy: a bounded number of
// attempts, each raced against the attempt timeout, separated by exponential
// backoff. Only transport failures are retried; everything else surfaces on
// the first attempt.
type Executor struct {
	logger types.Logger
	config *types.RetryConfig
	conn   types.ConnectionManager
	sleep  types.Sleeper

	mm types.MetricsManager
}

func New(logger types.Logger, config *types.RetryConfig, conn types.ConnectionManager, mm types.MetricsManager) (*Executor, error) {
	return NewWithSleeper(logger, config, conn, mm, types.SleepWithContext)
}

func NewWithSleeper(logger types.Logger, config *types.RetryConfig, conn types.ConnectionManager, mm types.MetricsManager, sleep types.Sleeper) (*Executor, error) {
	if config == nil {
		return nil, types.NewInvalidConfigError("retry config is nil", nil)
	}
	if config.MaxAttempts < 1 {
		return nil, types.NewInvalidConfigError("retry max attempts must be at least 1", nil)
	}
	if config.AttemptTimeout <= 0 {
		return nil, types.NewInvalidConfigError("retry attempt timeout must be positive", nil)
	}
	if config.Backoff == nil {
		return nil, types.NewInvalidConfigError("retry backoff config is required", nil)
	}
	if conn == nil {
		return nil, types.NewInvalidConfigError("connection manager is required", nil)
	}

	return &Executor{
		logger: logger,
		config: config,
		conn:   conn,
		sleep:  sleep,
		mm:     mm,
	}, nil
}

// Execute runs an operation that yields no value.
func (e *Executor) Execute(ctx context.Context, opName string, op func(ctx context.Context, client types.StoreClient) error) error {
	_, err := Run(ctx, e, opName, func(ctx context.Context, client types.StoreClient) (struct{}, error) {
		return struct{}{}, op(ctx, client)
	})
	return err
}

// Run drives one operation through the retry policy and returns its value.
func Run[T any](ctx context.Context, e *Executor, opName string, op Operation[T]) (T, error) {
	var zero T

	opID := uuid.NewString()
	start := time.Now()
	defer e.observeDuration(opName, start)

	var lastErr *types.CacheError

	attempt := 1
	for ; attempt <= e.config.MaxAttempts; attempt++ {
		client, err := e.conn.Client()
		if err != nil {
			lastErr = types.Classify(err)
			e.recordFailure(opName)
			e.logFailure(opName, opID, attempt-1, start, lastErr)
			return zero, lastErr
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
		value, err := op(attemptCtx, client)
		cancel()

		if err == nil {
			e.recordSuccess(opName)
			return value, nil
		}

		// A miss is a normal outcome, not a failure.
		if types.IsError(err, types.ErrKeyNotFound) {
			e.recordMiss(opName)
			return zero, err
		}

		lastErr = types.Classify(err)
		e.report(lastErr)

		if !types.Retryable(lastErr) {
			e.recordFailure(opName)
			e.logFailure(opName, opID, attempt, start, lastErr)
			return zero, lastErr
		}

		// The parent giving up trumps the remaining attempt budget.
		if ctx.Err() != nil {
			break
		}

		if attempt == e.config.MaxAttempts {
			break
		}

		e.logger.Debug("Operation attempt failed, retrying",
			zap.String("operation", opName),
			zap.String("operation_id", opID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		e.recordRetry(opName)

		if err := e.sleep(ctx, e.config.Backoff.Delay(attempt)); err != nil {
			break
		}
	}

	if attempt > e.config.MaxAttempts {
		attempt = e.config.MaxAttempts
	}
	e.recordFailure(opName)
	e.logFailure(opName, opID, attempt, start, lastErr)
	return zero, lastErr
}

func (e *Executor) report(err *types.CacheError) {
	if fr, ok := e.conn.(failureReporter); ok {
		fr.ReportFailure(err)
	}
}

// logFailure emits the single error entry for an exhausted or non-retryable
// operation. Per-attempt noise stays at debug level.
func (e *Executor) logFailure(opName, opID string, attempts int, start time.Time, err *types.CacheError) {
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	e.logger.Error("Operation failed",
		zap.String("operation", opName),
		zap.String("operation_id", opID),
		zap.Int("attempts", attempts),
		zap.Int("retries", retries),
		zap.Duration("duration", time.Since(start)),
		zap.String("kind", err.Kind.String()),
		zap.Error(err))
}

func (e *Executor) observeDuration(opName string, start time.Time) {
	if e.mm == nil {
		return
	}
	e.mm.Histogram("operation_duration_seconds", durationBuckets,
		map[string]string{"operation": opName}).ObserveDuration(start)
}

func (e *Executor) recordSuccess(opName string) {
	if e.mm == nil {
		return
	}
	e.mm.Counter("operations_total",
		map[string]string{"operation": opName, "result": "success"}).Inc()
}

func (e *Executor) recordFailure(opName string) {
	if e.mm == nil {
		return
	}
	e.mm.Counter("operations_total",
		map[string]string{"operation": opName, "result": "failure"}).Inc()
}

func (e *Executor) recordMiss(opName string) {
	if e.mm == nil {
		return
	}
	e.mm.Counter("operations_total",
		map[string]string{"operation": opName, "result": "miss"}).Inc()
}

func (e *Executor) recordRetry(opName string) {
	if e.mm == nil {
		return
	}
	e.mm.Counter("operation_retries_total",
		map[string]string{"operation": opName}).Inc()
}

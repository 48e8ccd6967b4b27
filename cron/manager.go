package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hostdash/cachetier/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager schedules named background jobs. Jobs run on the scheduler's own
// goroutines and are wrapped so a panic or overrun never takes the process
// down with it.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	activeJobs      map[string]context.CancelFunc
	activeJobsMu    sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	cronOptions := []cron.Option{
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(safeCronLogger{logger: logger})),
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		cron:            cron.New(cronOptions...),
		jobs:            make(map[string]*types.JobEntry),
		activeJobs:      make(map[string]context.CancelFunc),
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      5 * time.Minute,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" || job == nil {
		return types.ErrSweepScheduleInvalid
	}
	if spec == "" {
		return types.ErrSweepScheduleInvalid
	}

	return m.addJob(jobName, spec, m.wrapJob(jobName, job))
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)
	m.logger.Info("Scheduler started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrManagerNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)
		err = m.stop()
		m.setSchedulerStatus(0)

		if err == nil {
			m.logger.Info("Scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// wrapJob bounds a job with the job timeout, records its stats and swallows
// panics. A wrapped job scheduled during shutdown is skipped, never queued.
func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in job wrapper",
					zap.String("job_name", jobName),
					zap.Any("panic", r))
			}
		}()

		select {
		case <-m.shutdown:
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		m.logger.Debug("Job started", zap.String("job_name", jobName))
		m.updateJobStart(jobName, startTime)

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		if !m.registerActiveJob(jobName, cancel) {
			return
		}
		defer m.unregisterActiveJob(jobName)

		var err error
		done := make(chan struct{})

		go func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("job panic: %v", r)
					m.logger.Error("Job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
				close(done)
			}()
			job()
		}()

		select {
		case <-done:
		case <-jobCtx.Done():
			err = types.WrapError(jobCtx.Err(), "job interrupted")
			m.logger.Error("Job interrupted",
				zap.String("job_name", jobName),
				zap.Error(err))
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
		}
		m.incJobExecutionsCounter(jobName, result)
		m.observeJobDuration(jobName, duration.Seconds())
		m.updateJobFinish(jobName, duration, err)

		if err != nil {
			m.logger.Error("Job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			m.logger.Debug("Job completed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration))
		}
	}
}

func (m *Manager) addJob(jobName, spec string, job func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrSweepSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrSweepJobExists
	}

	entryID, err := m.cron.AddFunc(spec, job)
	if err != nil {
		return types.Errorf(types.ErrSweepScheduleInvalid, "%v", err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}

	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Job scheduled",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.activeJobsMu.Lock()
		active := make(map[string]context.CancelFunc, len(m.activeJobs))
		for jobName, cancelJob := range m.activeJobs {
			active[jobName] = cancelJob
		}
		m.activeJobs = make(map[string]context.CancelFunc)
		m.activeJobsMu.Unlock()

		for jobName, cancelJob := range active {
			cancelJob()
			m.logger.Debug("Cancelled job during shutdown", zap.String("job_name", jobName))
		}
		return nil
	})

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Scheduler stop timeout, some jobs may not have stopped gracefully")
		return err
	}

	return nil
}

func (m *Manager) registerActiveJob(jobName string, cancel context.CancelFunc) bool {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	select {
	case <-m.shutdown:
		return false
	default:
	}

	if oldCancel, exists := m.activeJobs[jobName]; exists {
		oldCancel()
	}

	m.activeJobs[jobName] = cancel
	return true
}

func (m *Manager) unregisterActiveJob(jobName string) {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	if cancel, exists := m.activeJobs[jobName]; exists {
		cancel()
		delete(m.activeJobs, jobName)
	}
}

func (m *Manager) updateJobStart(jobName string, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.Error = nil

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) updateJobFinish(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.RunCount++
	entry.Error = err

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

// Jobs returns a snapshot of the registered job entries.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		entries = append(entries, *entry)
	}
	return entries
}

func (m *Manager) incJobExecutionsCounter(jobName, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.Counter("sweep_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
}

func (m *Manager) observeJobDuration(jobName string, seconds float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Histogram("sweep_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	).Observe(seconds)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("sweep_scheduler_running", nil).Set(value)
}

// safeCronLogger adapts the process logger to the cron library's logging
// interface, which feeds the panic recovery chain.
type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, cronFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(cronFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

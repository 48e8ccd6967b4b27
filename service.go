package cachetier

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hostdash/cachetier/cache"
	"github.com/hostdash/cachetier/config"
	"github.com/hostdash/cachetier/connection"
	"github.com/hostdash/cachetier/cron"
	"github.com/hostdash/cachetier/executor"
	"github.com/hostdash/cachetier/health"
	"github.com/hostdash/cachetier/janitor"
	"github.com/hostdash/cachetier/logger"
	"github.com/hostdash/cachetier/metrics"
	"github.com/hostdash/cachetier/server"
	"github.com/hostdash/cachetier/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service assembles the cache tier. All dependencies are wired explicitly
// at construction; nothing reaches for process-global state.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	config  *types.ServiceConfig
	logger  types.Logger
	zapBase *logger.ZapWrapper

	conn      *connection.Manager
	exec      *executor.Executor
	facade    *cache.Facade
	collector *metrics.Collector
	prom      *metrics.PrometheusMetrics
	scheduler *cron.Manager
	janitor   *janitor.Janitor
	health    *health.Manager
	diag      *server.DiagServer

	state           atomic.Value
	shutdownTimeout time.Duration
}

// New builds a Service from a config file path. Construction fails fast on
// invalid configuration; it performs no network calls.
func New(ctx context.Context, configPath string) (*Service, error) {
	cm, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cm.GetConfig())
}

// NewWithConfig wires the service from an already-validated configuration.
func NewWithConfig(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("service config is nil", nil)
	}

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	zapBase, _ := log.(*logger.ZapWrapper)

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          cfg,
		logger:          log,
		zapBase:         zapBase,
		shutdownTimeout: 30 * time.Second,
	}
	s.state.Store(StateStopped)

	if err := s.wire(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) wire() error {
	cfg := s.config

	var mm types.MetricsManager
	if cfg.Metrics == nil || cfg.Metrics.Enabled {
		prom, err := metrics.NewPrometheusMetrics(s.logger, cfg.Metrics)
		if err != nil {
			return err
		}
		s.prom = prom
		mm = prom
	}

	conn, err := connection.NewManager(cfg.Redis, s.logger)
	if err != nil {
		return err
	}
	s.conn = conn

	exec, err := executor.New(s.logger, cfg.Retry, conn, mm)
	if err != nil {
		return err
	}
	s.exec = exec

	facade, err := cache.NewFacade(s.logger, cfg.TTL, exec)
	if err != nil {
		return err
	}
	s.facade = facade

	collector, err := metrics.NewCollector(s.logger, cfg.Stats, conn, mm)
	if err != nil {
		return err
	}
	s.collector = collector

	scheduler, err := cron.NewManager(s.ctx, s.logger, mm)
	if err != nil {
		return err
	}
	s.scheduler = scheduler

	jan, err := janitor.New(s.logger, cfg.Janitor, exec, mm)
	if err != nil {
		return err
	}
	s.janitor = jan

	hm, err := health.NewManager(s.ctx, s.logger, types.ServiceInfo{
		Name:    cfg.Name,
		Version: cfg.Version,
	})
	if err != nil {
		return err
	}
	hm.RegisterChecker("store", health.StoreChecker(conn))
	s.health = hm

	if cfg.Server != nil && cfg.Server.Enabled {
		if s.prom == nil {
			return types.NewInvalidConfigError("diag server requires metrics to be enabled", nil)
		}
		diag, err := server.NewDiagServer(s.ctx, s.logger, cfg.Server, hm, s.prom, collector)
		if err != nil {
			return err
		}
		s.diag = diag
	}

	return nil
}

// Start brings the components up in dependency order. A store that cannot be
// reached yet is tolerated; authentication and configuration failures are
// not.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	s.logger.Info("Starting cache tier",
		zap.String("name", s.config.Name),
		zap.String("version", s.config.Version))

	if err := s.health.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start health manager")
	}

	if err := s.conn.Connect(s.ctx); err != nil {
		if types.IsKind(err, types.KindAuthenticationError) || types.IsKind(err, types.KindInvalidConfig) {
			s.setState(StateStopped)
			return err
		}
		// Degraded start: operations soft-fail or surface NotConnected
		// until the background reconnect succeeds.
		s.logger.Warn("Store unreachable at startup, continuing degraded", zap.Error(err))
	}

	if err := s.collector.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start stats collector")
	}
	s.collector.CollectOnce(s.ctx)

	if err := s.janitor.Register(s.scheduler); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to register janitor sweep")
	}
	if err := s.scheduler.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start scheduler")
	}

	if s.diag != nil {
		if err := s.diag.Start(); err != nil {
			s.setState(StateStopped)
			return err
		}
	}

	s.setState(StateRunning)
	s.logger.Info("Cache tier started")
	return nil
}

// Stop tears the components down in reverse order: background consumers
// first, the connection last so in-flight work can finish cleanly.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) &&
		!s.transitionState(StateStarting, StateStopping) {
		return types.ErrManagerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
		if s.zapBase != nil {
			_ = s.zapBase.Sync()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	if s.diag != nil && s.diag.IsRunning() {
		g.Go(func() error {
			return s.diag.Stop()
		})
	}
	g.Go(func() error {
		if s.scheduler.IsRunning() {
			return s.scheduler.Stop()
		}
		return nil
	})
	g.Go(func() error {
		if s.collector.IsRunning() {
			return s.collector.Stop()
		}
		return nil
	})

	var firstErr error
	if err := g.Wait(); err != nil {
		s.logger.Error("Error stopping background components", zap.Error(err))
		firstErr = err
	}

	if s.health.IsRunning() {
		if err := s.health.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.conn.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down connection", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		s.logger.Info("Cache tier stopped gracefully")
	}
	return firstErr
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// Cache is the typed facade consumed by the application.
func (s *Service) Cache() types.CacheFacade {
	return s.facade
}

// Connection exposes the state machine for observers.
func (s *Service) Connection() types.ConnectionManager {
	return s.conn
}

// Stats exposes the latest store statistics snapshot.
func (s *Service) Stats() types.StatsCollector {
	return s.collector
}

// Health exposes the aggregated health report surface.
func (s *Service) Health() types.HealthManager {
	return s.health
}

// Sweep triggers an immediate janitor pass outside the schedule.
func (s *Service) Sweep(ctx context.Context) (janitor.SweepResult, error) {
	return s.janitor.Sweep(ctx)
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hostdash/cachetier/types"
	"github.com/hostdash/cachetier/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// DiagServer is the small diagnostic HTTP surface: health report, metrics
// exposition and the latest stats snapshot. It is not the application API;
// it binds to localhost by default and carries no auth.
type DiagServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.DiagServerConfig
	health          types.HealthManager
	metrics         types.MetricsManager
	stats           types.StatsCollector
	server          *fasthttp.Server
	listener        net.Listener
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewDiagServer(
	ctx context.Context,
	logger types.Logger,
	config *types.DiagServerConfig,
	health types.HealthManager,
	metrics types.MetricsManager,
	stats types.StatsCollector) (*DiagServer, error) {
	if config == nil {
		return nil, types.NewInvalidConfigError("diag server config is nil", nil)
	}

	serverCtx, cancel := context.WithCancel(ctx)

	s := &DiagServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		health:          health,
		metrics:         metrics,
		stats:           stats,
		shutdownTimeout: 5 * time.Second,
	}
	s.state.Store(StateStopped)

	s.server = &fasthttp.Server{
		Handler:      s.route,
		Name:         "cachetier-diag",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *DiagServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrManagerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.Errorf(types.ErrComponentStartFailed, "diag server listen on %s: %v", addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil {
			if s.getState() == StateRunning {
				s.logger.Error("Diag server terminated", zap.Error(err))
			}
		}
	}()

	s.setState(StateRunning)
	s.logger.Info("Diag server listening", zap.String("addr", addr))
	return nil
}

func (s *DiagServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrManagerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("Diag server did not shut down gracefully", zap.Error(err))
		return err
	}

	s.logger.Info("Diag server stopped")
	return nil
}

func (s *DiagServer) IsRunning() bool {
	return s.getState() == StateRunning
}

// Addr reports the bound listen address, useful when the port is 0.
func (s *DiagServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *DiagServer) getState() State {
	return s.state.Load().(State)
}

func (s *DiagServer) setState(newState State) {
	s.state.Store(newState)
}

func (s *DiagServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *DiagServer) route(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	switch string(ctx.Path()) {
	case "/health":
		s.handleHealth(ctx)
	case "/metrics":
		s.handleMetrics(ctx)
	case "/stats":
		s.handleStats(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *DiagServer) handleHealth(ctx *fasthttp.RequestCtx) {
	report := s.health.Check(ctx)

	body, err := utils.Marshal(report)
	if err != nil {
		s.logger.Error("Failed to encode health report", zap.Error(err))
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}

	status := fasthttp.StatusOK
	if report.Status != types.StatusHealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func (s *DiagServer) handleMetrics(ctx *fasthttp.RequestCtx) {
	body, err := s.metrics.Expose()
	if err != nil {
		s.logger.Error("Failed to expose metrics", zap.Error(err))
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("text/plain; version=0.0.4; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func (s *DiagServer) handleStats(ctx *fasthttp.RequestCtx) {
	snapshot := s.stats.Snapshot()

	body, err := utils.Marshal(snapshot)
	if err != nil {
		s.logger.Error("Failed to encode stats snapshot", zap.Error(err))
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"titancompute/internal/config"
	"titancompute/pkg/audit"
	"titancompute/pkg/interceptors"
	"titancompute/pkg/logger"
	"titancompute/pkg/metrics"
	"titancompute/pkg/telemetry"
)

// Default tuning for a single agent process: the coordinator and its own
// streaming clients are the only peers, so these don't need to be
// configurable per-deployment the way a multi-tenant service's would.
const (
	defaultMaxRecvMsgSize       = 16 << 20
	defaultMaxSendMsgSize       = 16 << 20
	defaultMaxConcurrentStreams = 256

	defaultKeepAliveMaxConnectionIdle = 15 * time.Minute
	defaultKeepAliveTime              = 2 * time.Hour
	defaultKeepAliveTimeout           = 20 * time.Second

	gracefulStopGrace = 10 * time.Second
)

// GRPCServer wraps a *grpc.Server with the health, reflection, tracing and
// metrics wiring the agent's RPC surface needs.
type GRPCServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	config      *config.Config
	telemetry   *telemetry.Provider
	auditLogger audit.Logger
}

// New creates a gRPC server for the agent using its default options.
func New(cfg *config.Config) *GRPCServer {
	return NewWithOptions(cfg, nil)
}

// ServerOptions carries overrides for the pieces New wires up by default.
type ServerOptions struct {
	AuditLogger         audit.Logger
	AuditExcludeMethods []string
}

// NewWithOptions builds the gRPC server, its interceptor chain, and its
// health service.
func NewWithOptions(cfg *config.Config, opts *ServerOptions) *GRPCServer {
	if opts == nil {
		opts = &ServerOptions{}
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle: defaultKeepAliveMaxConnectionIdle,
		Time:              defaultKeepAliveTime,
		Timeout:           defaultKeepAliveTimeout,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	auditLogger := opts.AuditLogger
	if auditLogger == nil {
		auditLogger = audit.Get()
	}

	auditExclude := make(map[string]bool)
	for _, method := range opts.AuditExcludeMethods {
		auditExclude[method] = true
	}
	auditExclude["/grpc.health.v1.Health/Check"] = true
	auditExclude["/grpc.health.v1.Health/Watch"] = true

	interceptorCfg := &interceptors.ServerConfig{
		ServiceName:   cfg.AgentID,
		EnableTracing: cfg.TracingEnabled,
		EnableAudit:   true,
		AuditLogger:   auditLogger,
		AuditExclude:  auditExclude,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(defaultMaxRecvMsgSize),
		grpc.MaxSendMsgSize(defaultMaxSendMsgSize),
		grpc.MaxConcurrentStreams(defaultMaxConcurrentStreams),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptors(interceptorCfg)),
		grpc.StreamInterceptor(interceptors.StreamServerInterceptors(interceptorCfg)),
	}

	s := grpc.NewServer(serverOpts...)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.LogLevel == "debug" {
		reflection.Register(s)
		logger.Log.Debug("gRPC reflection enabled")
	}

	return &GRPCServer{
		server:      s,
		health:      h,
		serviceName: cfg.AgentID,
		config:      cfg,
		auditLogger: auditLogger,
	}
}

// GetEngine returns the underlying *grpc.Server for service registration.
func (s *GRPCServer) GetEngine() *grpc.Server {
	return s.server
}

// GetAuditLogger returns the audit logger wired into the interceptor chain.
func (s *GRPCServer) GetAuditLogger() audit.Logger {
	return s.auditLogger
}

// Run starts the gRPC listener and any sidecar servers (metrics, tracing)
// and blocks until a shutdown signal arrives or the server errors out.
func (s *GRPCServer) Run() error {
	ctx := context.Background()

	if s.config.TracingEnabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.TracingEnabled,
			Endpoint:    s.config.TracingEndpoint,
			ServiceName: s.serviceName,
			SampleRate:  s.config.TracingSampleRate,
		})
		if err != nil {
			logger.Log.Warn("Failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("Telemetry initialized",
				"endpoint", s.config.TracingEndpoint,
				"sample_rate", s.config.TracingSampleRate,
			)
		}
	}

	if s.config.MetricsEnabled {
		go func() {
			logger.Log.Info("Starting metrics server", "port", s.config.MetricsPort)
			if err := metrics.StartMetricsServer(s.config.MetricsPort); err != nil {
				logger.Log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.AgentPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)

	go func() {
		logger.Log.Info("Starting gRPC server",
			"agent_id", s.serviceName,
			"port", s.config.AgentPort,
		)
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo("dev", "agent")
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Start").
			Action(audit.ActionCreate).
			Outcome(audit.OutcomeSuccess).
			Meta("port", s.config.AgentPort).
			Build()
		if err := s.auditLogger.Log(ctx, entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	return s.waitForShutdown(errCh)
}

func (s *GRPCServer) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Log.Info("Received shutdown signal", "signal", sig)
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Shutdown").
			Action(audit.ActionUpdate).
			Outcome(audit.OutcomeSuccess).
			Meta("reason", "signal").
			Build()
		if err := s.auditLogger.Log(context.Background(), entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopGrace)
	defer cancel()

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("Failed to shutdown telemetry", "error", err)
		}
	}

	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			logger.Log.Warn("Failed to close audit logger", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Server stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("Forcing server stop")
		s.server.Stop()
	}

	return nil
}

// SetServingStatus sets the health status reported for this service.
func (s *GRPCServer) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// Stop stops the server immediately, without waiting for in-flight RPCs.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

// GracefulStop stops the server, waiting for in-flight RPCs to complete.
func (s *GRPCServer) GracefulStop() {
	s.server.GracefulStop()
}

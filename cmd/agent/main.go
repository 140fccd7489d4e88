// Command agent runs a single TitanCompute inference agent: it registers
// with a coordinator, reports health on a fixed cadence, and serves
// StreamInference/GetStatus over gRPC to callers holding a session token
// issued by that coordinator.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"titancompute/internal/agentserver"
	"titancompute/internal/config"
	"titancompute/internal/coordinator"
	"titancompute/internal/modelmanager"
	"titancompute/internal/rpcmsg"
	"titancompute/internal/telemetry"
	"titancompute/internal/token"
	"titancompute/pkg/cache"
	"titancompute/pkg/logger"
	"titancompute/pkg/metrics"
	"titancompute/pkg/server"
)

func main() {
	cfg := config.MustLoad()

	logger.InitWithConfig(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	})

	metrics.InitMetrics("titancompute", "agent")

	probe := telemetry.NewProbe(nil)

	store, err := cache.New(cache.FromConfig(cfg))
	if err != nil {
		logger.Fatal("failed to build model registry cache", "error", err)
	}
	registry := modelmanager.NewRegistry(store)
	backend := modelmanager.NewOllamaBackend(cfg.BackendURL)
	manager := modelmanager.NewManager(backend, registry, probe)

	validator := token.NewValidator(cfg.AgentID)

	grpcServer := server.New(cfg)

	agentSrv := agentserver.New(cfg.AgentID, validator, manager, probe)
	rpcmsg.RegisterAgentServiceServer(grpcServer.GetEngine(), agentSrv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("preloading supported models", "models", cfg.SupportedModels)
	manager.PreloadModels(ctx, cfg.SupportedModels)

	conn, err := coordinator.Dial(ctx, cfg.CoordinatorEndpoint, coordinator.DefaultDialOptions())
	if err != nil {
		logger.Fatal("failed to dial coordinator", "error", err, "endpoint", cfg.CoordinatorEndpoint)
	}
	defer conn.Close()

	coordClient := coordinator.New(conn, coordinator.Config{
		AgentID:           cfg.AgentID,
		Endpoint:          cfg.Endpoint(),
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		SupportedModels:   cfg.SupportedModels,
		BackendURL:        cfg.BackendURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, probe, validator, agentSrv.ActiveSessionCount)

	if err := coordClient.Register(ctx); err != nil {
		logger.Fatal("failed to register with coordinator", "error", err)
	}
	coordClient.ConfigurePublicKey(ctx)

	go coordClient.RunHeartbeatLoop(ctx)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, closing coordinator connection")
		_ = coordClient.Close()
	}()

	if err := grpcServer.Run(); err != nil {
		logger.Fatal("gRPC server exited with error", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/api"
	"github.com/marmos91/dittostash/pkg/config"
)

func runServe(args []string) error {
	var configPath string
	fs := newFlagSet("serve", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("DittoStash %s starting", version)
	logger.Info("Storage root: %s", cfg.Storage.Root)
	logger.Info("Staging directory: %s", cfg.Storage.StagingPath())
	if cfg.Storage.MaxBytes > 0 {
		logger.Info("Quota: %s", cfg.Storage.MaxBytes)
	} else {
		logger.Info("Quota: free disk space minus %s reserve", cfg.Storage.ReserveBytes)
	}

	metricsResult := config.InitializeMetrics(cfg)

	rt, err := config.InitializeRuntime(ctx, cfg, metricsResult.ManagerMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	serverDone := make(chan error, 2)

	if metricsServer := config.NewMetricsServer(cfg, rt); metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverDone <- err
			}
		}()
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(api.Options{
			Service:           rt.Manager,
			StagingDir:        cfg.Storage.StagingPath(),
			Listen:            cfg.API.Listen,
			RequestsPerSecond: cfg.API.RateLimit.RequestsPerSecond,
			Burst:             cfg.API.RateLimit.Burst,
		})
		if err != nil {
			_ = rt.Close(context.Background())
			return err
		}
		go func() {
			serverDone <- apiServer.Start()
		}()
	}

	logger.Info("DittoStash is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case runErr = <-serverDone:
		if runErr != nil {
			logger.Error("Server error: %v", runErr)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("API shutdown error: %v", err)
		}
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr == nil {
		logger.Info("DittoStash stopped gracefully")
	}
	return runErr
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/giygas/resource-metrics-api/config"
	"github.com/giygas/resource-metrics-api/handlers"
	"github.com/giygas/resource-metrics-api/health"
	"github.com/giygas/resource-metrics-api/interfaces"
	"github.com/giygas/resource-metrics-api/logging"
	"github.com/giygas/resource-metrics-api/metrics"
	"github.com/giygas/resource-metrics-api/sampler"
	"github.com/giygas/resource-metrics-api/scheduler"
	"github.com/giygas/resource-metrics-api/server"
	"github.com/joho/godotenv"
)

func main() {
	loadEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	loggingService := logging.InitLogger(cfg.LogDir, cfg.ServiceName, cfg.LogLevel, cfg.LogRetentionWeeks, cfg.MaxLogFileSize)
	defer loggingService.Close()

	logging.Info("Configuration loaded", "env", cfg.Env, "overrides", config.OverriddenEnvVars())

	// Bucket conflicts must stop the process before it serves anything
	registry, err := metrics.NewRegistry(cfg.ServiceName, metrics.DefaultHistograms()...)
	if err != nil {
		logging.Error("Failed to create metrics registry", "error", err)
		os.Exit(1)
	}
	logging.Debug("Metrics registry ready", "service", registry.Service())

	hostSampler := sampler.New(sampler.Config{
		MountPoint:  cfg.DiskMountPoint,
		CPUInterval: cfg.CPUSampleInterval,
	})
	gauges := metrics.NewResourceGauges(registry, hostSampler)

	var (
		status       interfaces.SampleStatus
		sampling     interfaces.Scheduler
		interceptOpt []metrics.InterceptorOption
	)

	switch cfg.SamplingMode {
	case config.SamplingRequest:
		interceptOpt = append(interceptOpt, metrics.WithRequestSampling(gauges.SampleAndPublish, 5*time.Second))
		status = scheduler.NewOnRequest(gauges)
	default:
		periodic := scheduler.NewScheduler(gauges, cfg.SamplePeriod)
		if err := periodic.Start(); err != nil {
			logging.Error("Failed to start resource sampling", "error", err)
			os.Exit(1)
		}
		sampling = periodic
		status = periodic
	}

	logging.Info("Resource sampling configured",
		"mode", status.Mode(),
		"mount_point", cfg.DiskMountPoint,
		"cpu_interval", cfg.CPUSampleInterval.String())

	interceptor := metrics.NewInterceptor(registry, interceptOpt...)
	handler := handlers.NewHTTPHandler(health.NewHealthChecker(status, cfg.SamplePeriod), cfg.HandlerDelay)
	srv := server.NewServer(cfg, registry, interceptor, handler)

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	exitCode := 0
	select {
	case sig := <-quit:
		logging.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		logging.Error("Server failed to start", "error", err)
		exitCode = 1
	}

	if sampling != nil {
		sampling.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		exitCode = 1
	}

	if exitCode != 0 {
		loggingService.Close()
		os.Exit(exitCode)
	}
}

// loadEnv reads .env from the working directory, falling back to the
// executable's directory
func loadEnv() {
	if err := godotenv.Load(); err == nil {
		return
	}

	ex, err := os.Executable()
	if err != nil {
		logging.Warn("Failed to get executable path", "error", err)
		return
	}

	if err := godotenv.Load(filepath.Join(filepath.Dir(ex), ".env")); err != nil {
		logging.Debug("No .env file found, using the environment only")
	}
}

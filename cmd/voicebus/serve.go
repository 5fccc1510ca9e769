package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/voicebus"
	"github.com/glimte/voicebus/config"
	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/health"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/metrics"
)

const (
	healthTimeout   = 5 * time.Second
	httpStopTimeout = 5 * time.Second

	goroutineWarn     = 5_000
	goroutineCritical = 20_000
)

func newServeCmd(g *globals) *cobra.Command {
	var depthInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bus and expose metrics and health endpoints",
		Long: `Start the configured bus engine. When METRICS_ADDR is set, /metrics,
/health, /health/ready and /health/live are served on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			return serve(cmd.Context(), cfg, logger, depthInterval)
		},
	}
	cmd.Flags().DurationVar(&depthInterval, "depth-interval", 15*time.Second, "Queue depth sampling interval")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, depthInterval time.Duration) error {
	collector := metrics.NewPrometheusCollector(nil)
	if err := collector.Register(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	bus, err := voicebus.New(cfg, nil, voicebus.WithLogger(logger), voicebus.WithMetricsCollector(collector))
	if err != nil {
		return err
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s bus: %w", cfg.Mode, err)
	}
	logger.Info("bus started", "mode", cfg.Mode, "version", version)

	registry := health.NewRegistry()
	registry.SetMetadata("mode", cfg.Mode)
	registry.SetMetadata("version", version)
	for _, checker := range voicebus.HealthCheckers(bus) {
		registry.Register(checker)
	}
	registry.Register(health.NewGoroutineChecker(goroutineWarn, goroutineCritical))

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newMux(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics and health", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if depths := voicebus.Backlog(bus); depths != nil && depthInterval > 0 {
		go sampleDepths(ctx, depths, collector, depthInterval, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	var errs []error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpStopTimeout)
		errs = append(errs, srv.Shutdown(shutdownCtx))
		cancel()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+httpStopTimeout)
	defer cancel()
	errs = append(errs, bus.Stop(stopCtx))
	return errors.Join(errs...)
}

func newMux(registry *health.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.NewHandler(registry, healthTimeout))
	mux.HandleFunc("/health/ready", health.ReadinessHandler(registry, healthTimeout))
	mux.HandleFunc("/health/live", health.LivenessHandler())
	return mux
}

// sampleDepths copies the engine's queue depths into the queue_depth gauge
func sampleDepths(ctx context.Context, depths func(context.Context) (map[string]int, error), collector messaging.MetricsCollector, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			got, err := depths(ctx)
			if err != nil {
				logger.Warn("failed to sample queue depths", "error", err)
				continue
			}
			for queue, n := range got {
				collector.SetQueueDepth(queue, contracts.KindCommand, n)
			}
		}
	}
}

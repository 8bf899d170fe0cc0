package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridcore/server/internal/forwarder"
	"github.com/gridcore/server/internal/health"
	"github.com/gridcore/server/internal/log"
	"github.com/gridcore/server/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gridserver process",
	Long: `serve loads the configured resources into the registry,
builds their drivers, opens the catalog, starts the metrics and
health endpoints, and blocks until terminated.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer comp.Close()

	level := comp.cfg.Global.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	initLogging(level, logJSON || comp.cfg.Monitoring.Logging.Format == "json")

	logger := log.WithComponent("serve")
	logger.Info().Str("zone", comp.cfg.Global.Zone).Int("resources", len(comp.drivers)).Msg("gridserver starting")

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   comp.cfg.Monitoring.Metrics.Enabled,
		Port:      comp.cfg.Global.MetricsPort,
		Path:      "/metrics",
		Labels:    comp.cfg.Monitoring.Metrics.CustomLabels,
		Namespace: "gridserver",
	})
	if err != nil {
		return err
	}
	if err := metricsCollector.Start(ctx); err != nil {
		return err
	}
	defer metricsCollector.Stop(ctx)

	healthChecker, err := health.NewChecker(&health.Config{
		Enabled:        true,
		CheckInterval:  30 * time.Second,
		Timeout:        10 * time.Second,
		MaxFailures:    3,
		HTTPEnabled:    true,
		HTTPPort:       comp.cfg.Global.HealthPort,
		HTTPPath:       "/health",
		MetricsEnabled: true,
	})
	if err != nil {
		return err
	}
	if err := healthChecker.RegisterCheck("catalog", "bbolt catalog reachable", health.CategoryStorage, health.PriorityCritical,
		health.CatalogCheck(func(ctx context.Context) error {
			_, err := comp.catalog.ListResources(ctx)
			return err
		})); err != nil {
		return err
	}
	if err := healthChecker.Start(ctx); err != nil {
		return err
	}
	defer healthChecker.Stop()

	if comp.cfg.Features.CrossZoneForwarding {
		pool := forwarder.NewPool(comp.cfg.Security.TLS, nil)
		defer pool.CloseAll()
		logger.Info().Msg("cross-zone forwarding enabled, connection pool ready")
	}

	logger.Info().Msg("gridserver ready")
	<-ctx.Done()
	logger.Info().Msg("gridserver shutting down")
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/shoal/internal/logger"
	"github.com/marmos91/shoal/internal/telemetry"
	"github.com/marmos91/shoal/pkg/config"
	"github.com/marmos91/shoal/pkg/gateway"
	"github.com/marmos91/shoal/pkg/gateway/api"
	"github.com/marmos91/shoal/pkg/metrics"
	"github.com/marmos91/shoal/pkg/mpu"
	"github.com/marmos91/shoal/pkg/placement"
	"github.com/marmos91/shoal/pkg/shark"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shoal gateway",
	Long: `Start the shoal gateway with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/shoal/config.yaml.

Examples:
  # Start with the default config file
  shoal start

  # Start with a custom config file
  shoal start --config /etc/shoal/config.yaml

  # Start with environment variable overrides
  SHOAL_LOGGING_LEVEL=DEBUG shoal start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "shoal",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("configuration loaded", "source", configSource())
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	// Metrics must be initialized before the router is built so the
	// gateway collectors register against the live registry.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics collection enabled")
	} else {
		logger.Info("metrics collection disabled")
	}

	// Metadata tier
	mc, err := cfg.BuildMetaClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to open metadata shards: %w", err)
	}
	defer func() {
		if err := mc.Close(); err != nil {
			logger.Error("metadata shutdown error", "error", err)
		}
	}()
	logger.Info("metadata tier ready", "shards", len(cfg.Metadata.Shards))

	// Storage node view, refreshed in the background
	view := placement.NewView(cfg.BuildNodeSource())
	if err := view.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load storage node view: %w", err)
	}
	go view.Run(ctx, cfg.StorageNodes.RefreshInterval)
	logger.Info("storage node view ready",
		"nodes", len(cfg.StorageNodes.Static),
		"refresh_interval", cfg.StorageNodes.RefreshInterval)

	// Write pipeline: planner, replica fan-out, gateway, multipart manager
	planner := placement.NewPlanner(view, cfg.PlacementConfig())
	client := shark.NewClient(0)
	fanout := shark.NewFanout(client, view)
	gw := gateway.New(mc, planner, fanout, cfg.GatewayConfig())
	uploads := mpu.NewManager(gw, client, view, cfg.MPUConfig())

	srv, err := api.NewServer(cfg.Server, gw, uploads, view)
	if err != nil {
		return err
	}

	logger.Info("gateway listening", "port", srv.Port())
	return srv.Start(ctx)
}

func configSource() string {
	if f := GetConfigFile(); f != "" {
		return f
	}
	return config.GetDefaultConfigPath()
}

package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/logging"
	"github.com/Aman-CERP/codesearch/internal/server"
	"github.com/Aman-CERP/codesearch/internal/telemetry"
)

const telemetryFlushInterval = 30 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noTelemetry bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the codesearch server",
		Long: `Run the codesearch server on a TCP address, one JSON command per line.

Only one server runs per data directory; a second 'serve' exits with an
error naming the running process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if noTelemetry {
				cfg.Telemetry.Enabled = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&noTelemetry, "no-telemetry", false, "disable the local request metrics store")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	if cfg.Server.LogFile != "" {
		logCfg.FilePath = cfg.Server.LogFile
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return errors.ConfigError("set up logging", err)
	}
	defer cleanup()

	pid := server.NewPIDFile(filepath.Join(config.DataDir(), "server.pid"))
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pid.Release() }()

	metrics := openMetrics(cfg, logger)
	defer func() {
		if err := metrics.Close(); err != nil {
			logger.Warn("failed to flush telemetry", slog.String("error", err.Error()))
		}
	}()

	srv, err := server.New(server.Options{Config: cfg, Logger: logger, Metrics: metrics})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	logger.Info("server starting",
		slog.String("addr", cfg.Server.Addr),
		slog.Int("pid", os.Getpid()),
		slog.Bool("telemetry", cfg.Telemetry.Enabled))
	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	logger.Info("server stopped")
	return err
}

// openMetrics returns a collector backed by SQLite, memory-only when the
// database cannot be opened, or nil when telemetry is disabled.
func openMetrics(cfg *config.Config, logger *slog.Logger) *telemetry.Metrics {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	tc := telemetry.DefaultConfig()
	tc.FlushInterval = telemetryFlushInterval
	store, err := telemetry.OpenSQLite(cfg.TelemetryPath())
	if err != nil {
		logger.Warn("telemetry store unavailable, keeping metrics in memory",
			slog.String("path", cfg.TelemetryPath()),
			slog.String("error", err.Error()))
		return telemetry.New(nil, tc)
	}
	return telemetry.New(store, tc)
}

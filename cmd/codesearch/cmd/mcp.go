package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/logging"
	"github.com/Aman-CERP/codesearch/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve codesearch tools over MCP on stdio",
		Long: `Serve codesearch as an MCP server on stdin/stdout.

Tool calls go to a running 'codesearch serve' when one is reachable and
are answered in process otherwise. Logs go to the log file only, since
stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Server.LogLevel
			logCfg.WriteToStderr = false
			if cfg.Server.LogFile != "" {
				logCfg.FilePath = cfg.Server.LogFile
			}
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return errors.ConfigError("set up logging", err)
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, closeCaller, err := flags.caller(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeCaller()

			return mcp.NewServer(c, mcp.Options{Root: root, Logger: logger}).Run(ctx)
		},
	}
}

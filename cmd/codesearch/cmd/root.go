// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/logging"
	"github.com/Aman-CERP/codesearch/internal/server"
	"github.com/Aman-CERP/codesearch/pkg/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	addr     string
	root     string
	logLevel string
	local    bool
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "codesearch",
		Short: "Structured code search over text, symbols, syntax and language servers",
		Long: `codesearch indexes source trees and answers structured queries such as

  codesearch query 'function:parse AND NOT path:test'

Queries go to a running 'codesearch serve' when one is reachable and are
answered in process otherwise.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codesearch version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.addr, "addr", "", "server address (default from config, 127.0.0.1:7878)")
	pf.StringVar(&flags.root, "root", ".", "project root")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.local, "local", false, "answer in process even if a server is running")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newQueryCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newStatsCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// loadConfig resolves the project root and loads its configuration.
func (f *globalFlags) loadConfig() (string, *config.Config, error) {
	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", nil, errors.New(errors.ErrCodeInvalidPath, "invalid root: "+f.root, err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, errors.ConfigError("load configuration", err)
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.Server.LogLevel = f.logLevel
	}
	return root, cfg, nil
}

// cliLogger logs to stderr at the requested level, warn by default.
func (f *globalFlags) cliLogger() *slog.Logger {
	level := f.logLevel
	if level == "" {
		level = "warn"
	}
	logger, _, _ := logging.Setup(logging.StderrConfig(level))
	return logger
}

// caller sends one request to a codesearch server, remote or in process.
type caller interface {
	Call(ctx context.Context, action string, params, out any) error
}

// caller returns a running server's client or, when none answers, an
// in-process server. The cleanup function closes whichever it returned.
func (f *globalFlags) caller(ctx context.Context, cfg *config.Config, logger *slog.Logger) (caller, func(), error) {
	if !f.local {
		client := server.NewClient(cfg.Server.Addr, 500*time.Millisecond)
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			logger.Debug("using running server", slog.String("addr", cfg.Server.Addr))
			return client, func() { _ = client.Close() }, nil
		}
		_ = client.Close()
	}

	srv, err := server.New(server.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return srv, func() { _ = srv.Close() }, nil
}

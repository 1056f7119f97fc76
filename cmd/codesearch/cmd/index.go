package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/index"
	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/symbols"
	"github.com/Aman-CERP/codesearch/internal/ui"
)

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var (
		noTUI   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build the on-disk index for a project",
		Long: `Scan a project, extract symbols and write the index file under the
index directory (default .codesearch/index.bin).

Use 'codesearch serve' and the index_build command to keep an index
updated while files change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.root = args[0]
			}
			root, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI),
				ui.WithNoColor(noColor || ui.DetectNoColor()),
				ui.WithProjectDir(root)))
			return runIndex(ctx, root, cfg, renderer, flags.cliLogger())
		},
	}
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "plain text progress output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colors")
	return cmd
}

// runIndex builds and persists the index for root, reporting progress
// through r.
func runIndex(ctx context.Context, root string, cfg *config.Config, r ui.Renderer, logger *slog.Logger) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	start := time.Now()
	sc, err := scanner.New()
	if err != nil {
		return errors.InternalError("create scanner", err)
	}
	scan := cfg.ScanOptions(root)

	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning " + root})
	total := 0
	if err := sc.Walk(ctx, scan, func(*scanner.FileInfo) error {
		total++
		return nil
	}); err != nil {
		r.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	opts := index.Options{IndexPath: cfg.IndexPath(root), Logger: logger}
	if cfg.Backends.Symbols {
		opts.Extractor = symbols.NewExtractor()
	}
	store := index.NewStore(root, opts)
	warnings := 0
	if err := store.Load(); err != nil {
		warnings++
		r.AddError(ui.ErrorEvent{File: filepath.Base(opts.IndexPath), Err: fmt.Errorf("rebuilding: %s", errors.Message(err)), IsWarn: true})
	}

	indexer := index.NewIndexer(store, sc, index.IndexerConfig{
		Scan:    scan,
		Workers: cfg.Index.Workers,
		Logger:  logger,
	})
	indexer.OnProgress = func(n int64, path string) {
		r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: int(n), Total: total, CurrentFile: path})
	}

	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: total, Message: fmt.Sprintf("Indexing %d files", total)})
	n, err := indexer.InitialIndex(ctx)
	if err != nil {
		r.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	r.UpdateProgress(ui.ProgressEvent{Stage: ui.StagePersisting, Message: "Writing " + opts.IndexPath})
	if err := store.Persist(); err != nil {
		r.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	stats := store.Stats()
	r.Complete(ui.CompletionStats{
		Root:      root,
		IndexPath: opts.IndexPath,
		Files:     n,
		Symbols:   stats.TotalSymbols,
		Size:      stats.TotalSize,
		Duration:  time.Since(start),
		Warnings:  warnings,
	})
	logger.Debug("index written",
		slog.String("path", opts.IndexPath),
		slog.Int("files", n),
		slog.Int("symbols", stats.TotalSymbols))
	return nil
}

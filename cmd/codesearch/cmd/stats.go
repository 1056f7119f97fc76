package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/server"
	"github.com/Aman-CERP/codesearch/internal/telemetry"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for the active index",
		Long: `Show statistics for the server's active index.

Without a running server the on-disk index of the project is loaded by
an in-process build, which also refreshes it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, closeCaller, err := flags.caller(ctx, cfg, flags.cliLogger())
			if err != nil {
				return err
			}
			defer closeCaller()

			var st server.IndexStatsData
			if err := c.Call(ctx, server.ActionIndexStats, nil, &st); err != nil {
				return err
			}
			if st.Root == "" {
				if _, isServer := c.(*server.Server); isServer {
					if err := c.Call(ctx, server.ActionIndexBuild, server.IndexBuildParams{Root: root, Watch: new(bool)}, nil); err != nil {
						return err
					}
					if err := c.Call(ctx, server.ActionIndexStats, nil, &st); err != nil {
						return err
					}
				}
			}
			p := newPrinter(cmd.OutOrStdout(), jsonOutput, false)
			if jsonOutput {
				return p.value(st)
			}
			return writeIndexStats(p.out, st)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.AddCommand(newTelemetryCmd(flags))
	return cmd
}

func writeIndexStats(w io.Writer, st server.IndexStatsData) error {
	if st.Root == "" {
		_, err := fmt.Fprintln(w, "No active index. Run 'codesearch index' first.")
		return err
	}
	updated := "never"
	if st.LastUpdated > 0 {
		updated = time.Unix(st.LastUpdated, 0).Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "Root:         %s\nIndex:        %s\nFiles:        %d\nSymbols:      %d\nSize:         %d bytes\nLast updated: %s\nWatching:     %t\n",
		st.Root, st.IndexPath, st.TotalFiles, st.TotalSymbols, st.TotalSize, updated, st.Watching)
	return err
}

// telemetryReport is the persisted usage summary.
type telemetryReport struct {
	From              string                            `json:"from"`
	To                string                            `json:"to"`
	Actions           map[string]int64                  `json:"actions"`
	Latencies         map[telemetry.LatencyBucket]int64 `json:"latencies"`
	TopTerms          []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries []string                          `json:"zero_result_queries"`
}

func newTelemetryCmd(flags *globalFlags) *cobra.Command {
	var (
		days       int
		top        int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Show recorded server usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.TelemetryPath()
			if _, err := os.Stat(path); err != nil {
				return errors.New(errors.ErrCodeConfigNotFound, "no telemetry recorded at "+path, err).
					WithSuggestion("telemetry is written by 'codesearch serve' while telemetry.enabled is true")
			}
			store, err := telemetry.OpenSQLite(path)
			if err != nil {
				return errors.New(errors.ErrCodeIndexIO, "open telemetry store", err)
			}
			defer func() { _ = store.Close() }()

			report, err := loadTelemetryReport(store, time.Now(), days, top)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), jsonOutput, false)
			if jsonOutput {
				return p.value(report)
			}
			return writeTelemetryReport(p.out, report)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days to include")
	cmd.Flags().IntVar(&top, "top", 10, "top terms and zero-result queries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	return cmd
}

func loadTelemetryReport(store *telemetry.SQLiteStore, now time.Time, days, top int) (*telemetryReport, error) {
	if days < 1 {
		days = 1
	}
	r := &telemetryReport{
		From: now.AddDate(0, 0, -(days - 1)).Format("2006-01-02"),
		To:   now.Format("2006-01-02"),
	}
	var err error
	if r.Actions, err = store.GetActionCounts(r.From, r.To); err != nil {
		return nil, errors.New(errors.ErrCodeIndexIO, "read action counts", err)
	}
	if r.Latencies, err = store.GetLatencyCounts(r.From, r.To); err != nil {
		return nil, errors.New(errors.ErrCodeIndexIO, "read latency counts", err)
	}
	if r.TopTerms, err = store.GetTopTerms(top); err != nil {
		return nil, errors.New(errors.ErrCodeIndexIO, "read top terms", err)
	}
	if r.ZeroResultQueries, err = store.GetZeroResultQueries(top); err != nil {
		return nil, errors.New(errors.ErrCodeIndexIO, "read zero-result queries", err)
	}
	return r, nil
}

func writeTelemetryReport(w io.Writer, r *telemetryReport) error {
	fmt.Fprintf(w, "Requests %s to %s\n", r.From, r.To)
	actions := make([]string, 0, len(r.Actions))
	for a := range r.Actions {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "  %-16s %d\n", a, r.Actions[a])
	}

	fmt.Fprintln(w, "Latency")
	for _, b := range []telemetry.LatencyBucket{telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000} {
		fmt.Fprintf(w, "  %-16s %d\n", b, r.Latencies[b])
	}

	if len(r.TopTerms) > 0 {
		fmt.Fprintln(w, "Top terms")
		for _, t := range r.TopTerms {
			fmt.Fprintf(w, "  %-16s %d\n", t.Term, t.Count)
		}
	}
	if len(r.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Zero-result queries")
		for _, q := range r.ZeroResultQueries {
			fmt.Fprintf(w, "  %s\n", q)
		}
	}
	return nil
}

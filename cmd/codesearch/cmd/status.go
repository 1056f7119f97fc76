package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/server"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a server is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			client := server.NewClient(cfg.Server.Addr, 2*time.Second)
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()

			st := server.StatusData{}
			callErr := client.Call(ctx, server.ActionStatus, nil, &st)

			p := newPrinter(cmd.OutOrStdout(), jsonOutput, false)
			if jsonOutput {
				return p.value(st)
			}
			if callErr != nil {
				pid := server.NewPIDFile(filepath.Join(config.DataDir(), "server.pid"))
				if n, err := pid.Read(); err == nil && pid.IsRunning() {
					_, err := fmt.Fprintf(p.out, "Server process %d is running but not answering on %s\n", n, cfg.Server.Addr)
					return err
				}
				_, err := fmt.Fprintf(p.out, "Server is not running on %s\n", cfg.Server.Addr)
				return err
			}
			root := st.Root
			if root == "" {
				root = "(none)"
			}
			_, err = fmt.Fprintf(p.out, "Server is running on %s\n  PID:         %d\n  Version:     %s\n  Uptime:      %s\n  Connections: %d\n  Index root:  %s\n  Watching:    %t\n",
				cfg.Server.Addr, st.PID, st.Version, st.Uptime, st.Connections, root, st.Watching)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	return cmd
}

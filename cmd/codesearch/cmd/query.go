package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/server"
)

func newQueryCmd(flags *globalFlags) *cobra.Command {
	var (
		limit      int
		offset     int
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a structured query",
		Long: `Run a structured query against the project.

Terms are field:value pairs combined with AND, OR, NOT and parentheses:

  codesearch query 'function:parse AND path:src'
  codesearch query 'text:TODO NOT path:vendor limit:20'
  codesearch query 'calledby:main'

Fields: text, regex, function, class, struct, enum, trait, method,
symbol, file, path, calls, calledby, references, semantic, fuzzy, syntax.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := flags.cliLogger()
			c, closeCaller, err := flags.caller(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeCaller()

			params := server.QueryParams{Root: root, Query: args[0]}
			if cmd.Flags().Changed("limit") {
				params.Limit = &limit
			}
			if cmd.Flags().Changed("offset") {
				params.Offset = &offset
			}
			var res hits
			if err := c.Call(ctx, server.ActionQuery, params, &res); err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), jsonOutput, noColor).hits(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results, overriding limit: in the query")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip, overriding offset: in the query")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colors")
	return cmd
}

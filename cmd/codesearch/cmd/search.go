package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/server"
)

// searchOptions are shared by the search subcommands.
type searchOptions struct {
	limit      int
	jsonOutput bool
	noColor    bool
	regex      bool
	language   string
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a single search backend",
	}
	cmd.AddCommand(newSearchSubCmd(flags, "text <pattern>", "Find lines matching a literal or regular expression", server.ActionSearchText))
	cmd.AddCommand(newSearchSubCmd(flags, "syntax <query>", "Run a tree-sitter query", server.ActionSearchSyntax))
	cmd.AddCommand(newSearchSubCmd(flags, "symbol <name>", "Find symbol definitions by name", server.ActionSearchSymbol))
	cmd.AddCommand(newSearchSubCmd(flags, "semantic <query>", "Rank chunks by meaning and keywords", server.ActionSearchSemantic))
	cmd.AddCommand(newSearchSubCmd(flags, "fuzzy <name>", "Find symbols with similar names", server.ActionSearchFuzzy))
	cmd.AddCommand(newSearchSubCmd(flags, "path <fragment>", "Find files by path", server.ActionSearchPath))
	return cmd
}

func newSearchSubCmd(flags *globalFlags, use, short, action string) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var res hits
			if err := c.Call(ctx, action, searchParams(action, root, args[0], opts), &res); err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.jsonOutput, opts.noColor).hits(res)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum results (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colors")
	switch action {
	case server.ActionSearchText:
		cmd.Flags().BoolVarP(&opts.regex, "regex", "e", false, "treat the pattern as a regular expression")
	case server.ActionSearchSyntax:
		cmd.Flags().StringVar(&opts.language, "language", "", "restrict to one language")
	}
	return cmd
}

func searchParams(action, root, q string, opts *searchOptions) any {
	switch action {
	case server.ActionSearchText:
		return server.SearchTextParams{Root: root, Pattern: q, Regex: opts.regex, Limit: opts.limit}
	case server.ActionSearchSyntax:
		return server.SearchSyntaxParams{Root: root, Query: q, Language: opts.language, Limit: opts.limit}
	default:
		return server.SearchParams{Root: root, Query: q, Limit: opts.limit}
	}
}

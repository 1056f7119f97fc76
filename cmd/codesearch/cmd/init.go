package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/errors"
)

// projectConfigFile is the per-project configuration file name.
const projectConfigFile = ".codesearch.yaml"

func newInitCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .codesearch.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := filepath.Abs(flags.root)
			if err != nil {
				return errors.New(errors.ErrCodeInvalidPath, "invalid root: "+flags.root, err)
			}
			path := filepath.Join(root, projectConfigFile)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.ErrCodeConfigInvalid, path+" already exists", nil).
					WithSuggestion("pass --force to overwrite it")
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return errors.ConfigError("write "+path, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/config"
	"github.com/vango-dev/netsync/internal/errors"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create netsync.json",
	}
	cmd.AddCommand(configInitCmd(), configPrintCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default netsync.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Exists(dir) && !force {
				return errors.New("E140").
					WithDetail(filepath.Join(dir, config.ConfigFileName) + " already exists").
					WithSuggestion("Pass --force to overwrite it")
			}
			path := filepath.Join(dir, config.ConfigFileName)
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write netsync.json to")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configPrintCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		Long: `Print the configuration netsyncd would run with: the file's values
with defaults filled in. Without --config the defaults are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New()
			if path != "" {
				var err error
				if cfg, err = config.LoadFile(path); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to netsync.json")

	return cmd
}

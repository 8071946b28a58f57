package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect or create the config file"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to --config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", g.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			cfg := config.DefaultConfig()
			if g.dbPath != "" {
				cfg.Storage.DBPath = g.dbPath
			}
			if err := config.Save(g.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", g.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config after file, .env and environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return config.Encode(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

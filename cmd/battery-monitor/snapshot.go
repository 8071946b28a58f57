package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/battery-monitor/internal/config"
	"github.com/cptspacemanspiff/battery-monitor/internal/export"
	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

func newSnapshotCmd(g *globals) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "snapshot <id>",
		Short: "Print one stored snapshot with its apps and power assertions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q", args[0])
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return g.withStore(func(ctx context.Context, store *storage.DB, _ *config.Config) error {
				snap, err := store.Snapshot(ctx, id)
				if err != nil {
					return err
				}
				return export.Encode(cmd.OutOrStdout(), snap, f)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or yaml")
	return cmd
}

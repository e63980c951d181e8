package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"warthog/internal/services"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage vehicle catalog snapshots",
	}
	catalogCmd.AddCommand(newCatalogSyncCommand(ctx))
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	return catalogCmd
}

func newCatalogSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [release...]",
		Short: "Fetch catalog snapshots for releases",
		Long: `Fetch datamine snapshots for the given releases. With no arguments, every
release in the release index plus catalog.releases is synced. Releases already
cached are left alone. A release that fails to fetch does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			releases := args
			if len(releases) == 0 {
				targets, err := ctx.syncTargets()
				if err != nil {
					return err
				}
				releases = targets
			}
			if len(releases) == 0 {
				return services.Wrap(services.ErrValidation, "catalog", "sync", "no releases given; pass release ids, add them to the release index, or set catalog.releases", nil)
			}
			manager, err := ctx.catalogManager()
			if err != nil {
				return err
			}

			report := manager.SyncAll(cmd.Context(), releases)
			rows := make([][]string, 0, len(releases))
			for _, release := range releases {
				if failure, ok := report.Failed[release]; ok {
					rows = append(rows, []string{release, "failed", failure.Error()})
					continue
				}
				detail := ""
				if snapshot, ok := manager.Release(release); ok {
					detail = fmt.Sprintf("%d vehicles, effective %s", snapshot.Len(), snapshot.EffectiveFrom().UTC().Format(time.RFC3339))
				}
				rows = append(rows, []string{release, "ok", detail})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Release", "Status", "Detail"}, rows, nil))

			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d releases failed to sync", len(report.Failed), len(releases))
			}
			return nil
		},
	}
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached catalog snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.catalogManager()
			if err != nil {
				return err
			}
			releases := manager.Releases()
			if jsonOutput {
				return writeJSON(cmd, releases)
			}
			out := cmd.OutOrStdout()
			if len(releases) == 0 {
				fmt.Fprintln(out, "No catalog snapshots cached; run `warthog catalog sync <release>`")
				return nil
			}
			rows := make([][]string, 0, len(releases))
			for _, release := range releases {
				vehicles := ""
				if snapshot, ok := manager.Release(release.ID); ok {
					vehicles = strconv.Itoa(snapshot.Len())
				}
				rows = append(rows, []string{release.ID, release.EffectiveFrom.UTC().Format(time.RFC3339), vehicles})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Release", "Effective From", "Vehicles"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print releases as JSON")
	return cmd
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warthog/internal/correlate"
	"warthog/internal/textutil"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		mapFilter  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored matches in timestamp order",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			mapKey := textutil.MapKey(mapFilter)
			var records []correlate.MatchRecord
			for rec, err := range st.ListAll(cmd.Context()) {
				if err != nil {
					return err
				}
				if mapKey != "" && rec.Map != mapKey {
					continue
				}
				records = append(records, rec)
				if limit > 0 && len(records) >= limit {
					break
				}
			}

			if jsonOutput {
				if records == nil {
					records = []correlate.MatchRecord{}
				}
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No matches stored")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					shortID(rec.ID),
					rec.Time().Format(time.DateTime),
					textutil.DisplayMap(rec.Map),
					string(rec.GameMode),
					strconv.FormatFloat(rec.BattleRating, 'f', 1, 64),
					strconv.Itoa(len(rec.Players)),
					rec.CatalogRelease,
					string(rec.Source),
				})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"Match", "Played (UTC)", "Map", "Mode", "BR", "Players", "Release", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many matches (0 for all)")
	cmd.Flags().StringVar(&mapFilter, "map", "", "Only show matches on this map")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print full records as JSON")
	return cmd
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

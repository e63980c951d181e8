package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"warthog/internal/corpus"
	"warthog/internal/deps"
	"warthog/internal/services"
)

type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, dependencies, the store, and the catalog cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var results []checkResult

			configDetail := ctx.configPath
			if configDetail == "" {
				configDetail = "defaults"
			}
			results = append(results, checkResult{Name: "Configuration", OK: true, Detail: configDetail})

			for _, status := range deps.CheckBinaries(deps.RequirementsFor(cfg)) {
				detail := status.Path
				if !status.Available {
					detail = status.Detail
					if status.Optional {
						detail += " (optional)"
					}
				}
				results = append(results, checkResult{
					Name:   status.Name,
					OK:     status.Available || status.Optional,
					Detail: detail,
				})
			}

			if st, err := ctx.openStore(cmd.Context()); err != nil {
				results = append(results, checkResult{Name: "Record store", Detail: err.Error()})
			} else {
				health, err := st.CheckHealth(cmd.Context())
				if err != nil {
					results = append(results, checkResult{Name: "Record store", Detail: err.Error()})
				} else {
					results = append(results, checkResult{
						Name:   "Record store",
						OK:     true,
						Detail: fmt.Sprintf("%s, %d records, %s", health.Driver, health.Records, health.Latency.Round(time.Millisecond)),
					})
				}
				_ = st.Close()
			}

			if manager, err := ctx.catalogManager(); err != nil {
				results = append(results, checkResult{Name: "Catalog cache", Detail: err.Error()})
			} else {
				count := len(manager.Snapshots())
				detail := strconv.Itoa(count) + " snapshots"
				if count == 0 {
					detail = "empty; run `warthog catalog sync`"
				}
				results = append(results, checkResult{Name: "Catalog cache", OK: count > 0, Detail: detail})
			}

			if writer, err := corpus.NewWriter(cfg.Paths.CorpusDir, cfg.Ingest.CorpusLayout, nil); err != nil {
				results = append(results, checkResult{Name: "Corpus directory", Detail: err.Error()})
			} else {
				results = append(results, checkResult{Name: "Corpus directory", OK: true, Detail: writer.Dir() + " (" + writer.Layout() + ")"})
			}

			failed := 0
			for _, result := range results {
				if !result.OK {
					failed++
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, result := range results {
					status := "ok"
					if !result.OK {
						status = "FAIL"
					}
					rows = append(rows, []string{result.Name, status, result.Detail})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(out, []string{"Check", "Status", "Detail"}, rows, nil))
			}

			if failed > 0 {
				return services.Wrap(services.ErrValidation, "doctor", "", fmt.Sprintf("%d check(s) failed", failed), nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print check results as JSON")
	return cmd
}

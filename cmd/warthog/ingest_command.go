package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warthog/internal/catalog"
	"warthog/internal/corpus"
	"warthog/internal/correlate"
	"warthog/internal/ingest"
	"warthog/internal/logging"
	"warthog/internal/store"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		replayDir   string
		scrapeDir   string
		overwrite   bool
		workers     int
		noSync      bool
		jsonOutput  bool
		showSkipped bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [capture files...]",
		Short: "Normalize, correlate, and store captured matches",
		Long: `Scan the replay and scrape directories (plus any files given as arguments),
correlate each match against the vehicle catalog in force when it was played,
and store new records in the deduplicating store and the corpus.

Indexed and configured catalog releases that are not cached yet are fetched
first unless --no-sync is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("overwrite") {
				cfg.Ingest.OverwriteExisting = overwrite
			}
			if cmd.Flags().Changed("workers") {
				if workers < 1 {
					return fmt.Errorf("--workers must be positive")
				}
				cfg.Ingest.Workers = workers
			}
			sources := ingest.SourcesFromConfig(cfg)
			if strings.TrimSpace(replayDir) != "" {
				sources.ReplayDir = replayDir
			}
			if strings.TrimSpace(scrapeDir) != "" {
				sources.ScrapeDir = scrapeDir
			}
			sources.Files = args

			runCtx := cmd.Context()
			logger := ctx.loggerValue()

			manager, err := ctx.catalogManager()
			if err != nil {
				return err
			}
			if !noSync {
				targets, err := ctx.syncTargets()
				if err != nil {
					return err
				}
				syncMissingReleases(cmd, manager, targets)
			}
			if len(manager.Snapshots()) == 0 {
				logging.WarnWithContext(logger, "no catalog snapshots available", "catalog_empty",
					logging.String(logging.FieldErrorHint, "run `warthog catalog sync <release>`, or list releases in the release index or catalog.releases"),
					logging.String(logging.FieldImpact, "every capture will be skipped as no_catalog"),
				)
			}

			normalizer, err := ctx.normalizer(manager)
			if err != nil {
				return err
			}
			st, err := ctx.openStore(runCtx, store.WithOverwrite(cfg.Ingest.OverwriteExisting))
			if err != nil {
				return err
			}
			defer st.Close()
			writer, err := corpus.NewWriter(cfg.Paths.CorpusDir, cfg.Ingest.CorpusLayout, logger)
			if err != nil {
				return err
			}

			runner, err := ingest.NewRunner(cfg, ingest.Deps{
				Normalizer: normalizer,
				Correlator: correlate.NewCorrelator(manager, logger),
				Store:      st,
				Corpus:     writer,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			report, runErr := runner.Run(runCtx, sources)
			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printIngestReport(cmd, report, showSkipped)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&replayDir, "replay-dir", "", "Override paths.replay_dir for this run")
	cmd.Flags().StringVar(&scrapeDir, "scrape-dir", "", "Override paths.scrape_dir for this run")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace records that already exist (ingest.overwrite_existing)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of captures processed concurrently")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Do not fetch indexed or configured catalog releases missing from the cache")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run report as JSON")
	cmd.Flags().BoolVar(&showSkipped, "show-duplicates", false, "List duplicate captures alongside failures")
	return cmd
}

func syncMissingReleases(cmd *cobra.Command, manager *catalog.Manager, releases []string) {
	var missing []string
	for _, release := range releases {
		if _, ok := manager.Release(release); !ok {
			missing = append(missing, release)
		}
	}
	if len(missing) == 0 {
		return
	}
	report := manager.SyncAll(cmd.Context(), missing)
	if len(report.Failed) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d of %d catalog releases could not be fetched\n", len(report.Failed), len(missing))
	}
}

func printIngestReport(cmd *cobra.Command, report ingest.Report, showDuplicates bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", report.RunID, report.Duration().Round(time.Millisecond))

	counts := [][]string{
		{"Discovered", strconv.Itoa(report.Discovered)},
		{"Inserted", strconv.Itoa(report.Inserted)},
		{"Replaced", strconv.Itoa(report.Replaced)},
		{"Restored to corpus", strconv.Itoa(report.Restored)},
		{"Skipped duplicates", strconv.Itoa(report.Duplicates)},
		{"Malformed", strconv.Itoa(report.Malformed)},
		{"No catalog", strconv.Itoa(report.NoCatalog)},
		{"Correlation failures", strconv.Itoa(report.CorrelationFailures)},
		{"Unreadable", strconv.Itoa(report.Unreadable)},
		{"Dropped players", strconv.Itoa(report.DroppedPlayers)},
		{"Unresolved vehicles", strconv.Itoa(report.UnresolvedVehicles)},
	}
	fmt.Fprintln(out, renderTable(out, []string{"Metric", "Count"}, counts, []columnAlignment{alignLeft, alignRight}))

	if len(report.PlayerIssues) > 0 {
		issues := make([][]string, 0, len(report.PlayerIssues))
		for _, issue := range report.PlayerIssues {
			action := "kept"
			if issue.Dropped {
				action = "dropped"
			}
			issues = append(issues, []string{issue.Path, issue.PlayerID, issue.Code, action, issue.Reason})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(out, []string{"Capture", "Player", "Vehicle", "Outcome", "Reason"}, issues, nil))
	}

	rows := make([][]string, 0, len(report.Skipped))
	for _, item := range report.Skipped {
		if item.Kind == ingest.SkipDuplicate && !showDuplicates {
			continue
		}
		rows = append(rows, []string{item.Path, string(item.Kind), item.Reason})
	}
	if len(rows) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b []string) int { return strings.Compare(a[1], b[1]) })
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(out, []string{"Capture", "Kind", "Reason"}, rows, nil))
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"warthog/internal/corpus"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		layout string
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rewrite the corpus from the record store",
		Long: `Rewrite the corpus directory from every stored record in timestamp order.
Corpus files for matches no longer in the store are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := cfg.Paths.CorpusDir
			if strings.TrimSpace(dir) != "" {
				target = dir
			}
			if strings.TrimSpace(layout) == "" {
				layout = cfg.Ingest.CorpusLayout
			}

			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			writer, err := corpus.NewWriter(target, strings.ToLower(layout), ctx.loggerValue())
			if err != nil {
				return err
			}
			written, err := writer.Export(cmd.Context(), st.ListAll(cmd.Context()))
			if err != nil {
				return fmt.Errorf("export corpus: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s (%s layout)\n", written, writer.Dir(), writer.Layout())
			return nil
		},
	}

	cmd.Flags().StringVar(&layout, "layout", "", "Corpus layout: files or jsonl (default ingest.corpus_layout)")
	cmd.Flags().StringVar(&dir, "dir", "", "Write to this directory instead of paths.corpus_dir")
	return cmd
}

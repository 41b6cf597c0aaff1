package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/litstack/litreview/internal/dedupe"
	"github.com/litstack/litreview/internal/progress"
	"github.com/litstack/litreview/internal/report"
)

var dedupeOutput string

var dedupeCmd = &cobra.Command{
	Use:   "dedupe [type:location ...]",
	Short: "Parse and deduplicate exports without enrichment",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sources := cfg.Sources
		if len(args) > 0 {
			parsed, err := parseSourceArgs(args)
			if err != nil {
				return err
			}
			sources = parsed
		}
		if len(sources) == 0 {
			return eris.New("no sources given; pass type:location arguments or configure sources")
		}

		p := newProcessor(cfg, nil, progress.NewTracker())
		records, err := p.ingest(ctx, sources)
		if err != nil {
			return err
		}

		groups := dedupe.Groups(records)
		unique := make([]dedupe.Record, 0, len(groups))
		duplicates := 0
		for _, g := range groups {
			unique = append(unique, g.Canonical)
			duplicates += len(g.Duplicates)
		}

		if dedupeOutput != "" {
			w := report.NewWriter(report.Options{SeparateSheets: cfg.Output.SeparateSheets})
			if err := w.Write(unique, dedupeOutput); err != nil {
				return err
			}
		}

		summary := struct {
			Parsed     int    `json:"parsed"`
			Unique     int    `json:"unique"`
			Duplicates int    `json:"duplicates"`
			Output     string `json:"output,omitempty"`
		}{
			Parsed:     len(records),
			Unique:     len(unique),
			Duplicates: duplicates,
			Output:     dedupeOutput,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupeOutput, "output", "", "write the deduplicated set to an XLSX file")
	rootCmd.AddCommand(dedupeCmd)
}

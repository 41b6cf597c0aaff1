package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/progress"
)

var (
	runOutput    string
	runNoSummary bool
)

var runCmd = &cobra.Command{
	Use:   "run [type:location ...]",
	Short: "Process exports end to end and write the XLSX report",
	Long:  "Fetches and parses each source export, deduplicates the records, enriches them with journal metrics and abstract summaries, and writes the report. Sources given as arguments override the configured ones.",
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

		if runOutput != "" {
			cfg.Output.Path = runOutput
		}
		if runNoSummary {
			cfg.Processing.DisableSummary = true
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		p := newProcessor(cfg, st, progress.NewTracker())
		run, err := p.Process(ctx, sources)
		if err != nil {
			return eris.Wrap(err, "process")
		}

		zap.L().Info("run complete",
			zap.String("run_id", run.ID),
			zap.Int("parsed", run.ParsedRecords),
			zap.Int("unique", run.DedupedRecords),
			zap.Int("failed", run.FailedRecords),
			zap.String("output", run.OutputPath),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutput, "output", "", "report path (default from config)")
	runCmd.Flags().BoolVar(&runNoSummary, "no-summary", false, "skip LLM summarization")
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "litreview",
	Short: "Literature review batch processor",
	Long:  "Parses PubMed, Web of Science and ScienceDirect exports, deduplicates them, enriches each record with journal metrics and LLM abstract summaries, and writes an XLSX report.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

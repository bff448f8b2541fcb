package main

import (
	"github.com/spf13/cobra"

	"github.com/averros/scanstage/internal/api"
	"github.com/averros/scanstage/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "scanstage",
	Short: "Exam bundle ingestion server with QR-based page classification",
	Long: `Scanstage ingests scanned exam-paper PDF bundles and stages their pages
for commit into permanent paper records.

The pipeline includes:
  - Chunked background splitting of PDFs into page images
  - QR decoding and automatic page classification
  - Operator casting of misread or unknown pages
  - An atomic, collision-checked push into the papers store`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scanstage/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scanstage home directory (default: ~/.scanstage)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

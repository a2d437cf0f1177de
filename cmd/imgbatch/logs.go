package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgbatch/pkg/config"
	"imgbatch/pkg/manifest"
	"imgbatch/pkg/report"
	"imgbatch/pkg/ui"
)

var retentionDays int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage error report files",
}

var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove error reports older than the retention period",
	Long: `Remove detailed error logs and error summaries from the report directory.

Reports modified within the last --retention-days days are kept. A retention
of 0 removes every report.`,
	Run: runLogsClean,
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Maintain per-folder manifests",
}

var manifestPruneCmd = &cobra.Command{
	Use:   "prune <folder>...",
	Short: "Drop manifest entries whose file no longer exists",
	Args:  cobra.MinimumNArgs(1),
	Run:   runManifestPrune,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsCleanCmd)
	logsCleanCmd.Flags().IntVar(&retentionDays, "retention-days", 7, "keep reports newer than this many days")

	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestPruneCmd)
}

func runLogsClean(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		os.Exit(1)
	}

	removed, err := report.Clean(cfg.Logging.ReportDir, retentionDays)
	if err != nil {
		ui.PrintError("Failed to clean reports", err)
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Removed %d report files from %s", removed, cfg.Logging.ReportDir))
}

func runManifestPrune(cmd *cobra.Command, args []string) {
	failed := false
	for _, folder := range args {
		dropped, err := manifest.Prune(folder)
		if err != nil {
			ui.PrintError("Failed to prune "+folder, err)
			failed = true
			continue
		}
		ui.PrintInfo(folder, fmt.Sprintf("%d entries dropped", dropped))
	}
	if failed {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"imgbatch/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgbatch",
	Short: "Download the images referenced by a CSV of account records",
	Long: `imgbatch reads a CSV of image records, downloads every image into a
per-entity folder named company_account_user and writes the assigned file
names back into a copy of the CSV.

Features:
  - Timestamp based, collision free file names
  - Bounded retries with request pacing
  - Skips images that are already on disk
  - Error reports, per-folder manifests and Prometheus textfile metrics
  - Optional mirroring of every image into a bucket (file, mem, s3, gs)`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!noColor)

		if !quiet && cmd.Name() == "run" && !useTUI {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./imgbatch.yaml or $HOME/.config/imgbatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "send a desktop notification when a run ends")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show logs and one line per record")

	rootCmd.SetVersionTemplate(`imgbatch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

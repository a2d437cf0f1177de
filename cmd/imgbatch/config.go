package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imgbatch/pkg/config"
	"imgbatch/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage imgbatch configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IMGBATCH_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the default values",
	Long: `Create a configuration file holding every option at its default value.

The file is created in the current directory as 'imgbatch.yaml' unless a
different path is given with --config.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run:   runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value ranges (timeouts, retries, delay)
  - The file name layout and default extension
  - Timezone and log settings`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = "imgbatch.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		ui.PrintError("Failed to create configuration file", err)
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Adjust work_dir, pacing and naming to your needs")
	fmt.Println("2. Run 'imgbatch config validate' to check the configuration")
	fmt.Println("3. Start a run with 'imgbatch run --input records.csv'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		os.Exit(1)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err)
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (" + config.EnvPrefix + "*)")
	fmt.Println("3. .env files")
	if path := resolvedConfigFile(); path != "" {
		fmt.Printf("4. Configuration file: %s\n", path)
	} else {
		fmt.Println("4. Configuration file: (none found)")
	}
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	path := resolvedConfigFile()
	if path == "" {
		ui.PrintError("No configuration file found", "Specify a file with --config flag")
		os.Exit(1)
	}

	ui.PrintInfo("Validating configuration", path)

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		ui.PrintError("Invalid configuration file", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		ui.PrintError("Configuration validation failed", err)
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration is valid")
}

func resolvedConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return config.FindConfigFile()
}

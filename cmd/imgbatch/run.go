package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"imgbatch/internal/downloader"
	"imgbatch/pkg/config"
	"imgbatch/pkg/logger"
	"imgbatch/pkg/metrics"
	"imgbatch/pkg/mirror"
	"imgbatch/pkg/naming"
	"imgbatch/pkg/pipeline"
	"imgbatch/pkg/records"
	"imgbatch/pkg/storage"
	"imgbatch/pkg/ui"
	"imgbatch/pkg/ui/tui"
)

// exitInterrupted is returned when the run was cancelled before every record
// was reached
const exitInterrupted = 130

var (
	inputPath       string
	outputPath      string
	inputDir        string
	outputDir       string
	recursive       bool
	workDir         string
	accounts        []string
	maxRetries      int
	requestTimeout  time.Duration
	requestDelay    time.Duration
	userAgent       string
	timeFormat      string
	skipExisting    bool
	writeManifest   bool
	metricsTextfile string
	mirrorURL       string
	useTUI          bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download every image referenced by a CSV",
	Long: `Download every image referenced by the input CSV.

Records are validated, grouped by account_id and processed in create_time
order. Each image is stored as <work-dir>/<company>_<account>_<user>/<stamp>.<ext>
and the assigned name is written to the file_name column of the output CSV.

With --input-dir every CSV in the directory (and its subdirectories with
--recursive) is run in turn. Each input gets its own <name>_updated.csv and
its own image tree under <work-dir>/<name>/. Files already named
*_updated.csv are skipped.

Exit status is 0 when every record succeeded, 2 when at least one failed,
130 when the run was interrupted and 1 on a fatal error.`,
	Example: `  # Download with defaults, writing records_updated.csv
  imgbatch run --input records.csv

  # Only two accounts, into ./images, with a bucket copy
  imgbatch run --input records.csv --work-dir ./images --account 42,43 --mirror file:///backup

  # Every CSV under ./data, updated copies in ./out
  imgbatch run --input-dir ./data --recursive --output-dir ./out

  # Live dashboard
  imgbatch run --input records.csv --tui`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := runCommand(cmd)
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "input CSV file")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output CSV file (default: <input>_updated.csv)")
	runCmd.Flags().StringVarP(&inputDir, "input-dir", "d", "", "run every CSV file in this directory")
	runCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "with --input-dir, also search subdirectories")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "with --input-dir, write updated CSVs here instead of next to each input")
	runCmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "directory that receives the per-entity folders")
	runCmd.Flags().StringSliceVarP(&accounts, "account", "a", nil, "only process these account ids")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "total attempts per image")
	runCmd.Flags().DurationVar(&requestTimeout, "timeout", 0, "per-attempt request timeout")
	runCmd.Flags().DurationVar(&requestDelay, "delay", 0, "minimum gap between requests")
	runCmd.Flags().StringVar(&userAgent, "user-agent", "", "User-Agent header sent with every request")
	runCmd.Flags().StringVar(&timeFormat, "time-format", "", "Go time layout used for file names")
	runCmd.Flags().BoolVar(&skipExisting, "skip-existing", true, "treat an already present file as downloaded")
	runCmd.Flags().BoolVar(&writeManifest, "manifest", false, "maintain manifest.json in every folder")
	runCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file")
	runCmd.Flags().StringVar(&mirrorURL, "mirror", "", "bucket URL that receives a copy of every image")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show a live terminal dashboard")

	runCmd.MarkFlagsOneRequired("input", "input-dir")
	runCmd.MarkFlagsMutuallyExclusive("input", "input-dir")
	runCmd.MarkFlagsMutuallyExclusive("output", "input-dir")
}

// flagsFromCommand collects the flags the user actually set
func flagsFromCommand(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, v interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = v
		}
	}
	set("work-dir", workDir)
	set("max-retries", maxRetries)
	set("timeout", requestTimeout)
	set("delay", requestDelay)
	set("user-agent", userAgent)
	set("time-format", timeFormat)
	set("skip-existing", skipExisting)
	set("manifest", writeManifest)
	set("metrics-textfile", metricsTextfile)
	set("mirror", mirrorURL)
	if cmd.Flags().Changed("account") {
		flags["accounts"] = accounts
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func runCommand(cmd *cobra.Command) (int, error) {
	flags := flagsFromCommand(cmd)
	// Plain progress mode keeps the terminal for the progress line
	if !verbose && logLevel == "" {
		flags["log-level"] = "error"
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		return 1, nil
	}

	log, closer, err := newRunLogger(cfg)
	if err != nil {
		ui.PrintError("Failed to initialize logger", err)
		return 1, nil
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	newDisplay := func() pipeline.Sink {
		switch {
		case useTUI:
			return tui.New(cancel, tea.WithAltScreen())
		case !quiet:
			return ui.NewProgressDisplay(os.Stdout, verbose)
		}
		return nil
	}

	if inputDir != "" {
		return runDirectoryCommand(ctx, cfg, log, newDisplay), nil
	}

	res, err := runBatch(ctx, cfg, batchOptions{
		Input:   inputPath,
		Output:  outputPath,
		Display: newDisplay(),
	}, log)
	if res == nil {
		ui.PrintError("Run failed", err)
		return 1, nil
	}

	if !quiet {
		ui.PrintInfo("Records", res.Stats.Summary())
		ui.PrintInfo("Output", res.OutputPath)
		if res.ReportPath != "" {
			ui.PrintWarning("Error summary", res.ReportPath)
		}
	}
	if notifications {
		ui.NewNotifier().NotifyRun(res.Stats)
	}

	switch {
	case res.WriteErr != nil:
		ui.PrintError("Failed to write records", res.WriteErr)
		return 1, nil
	case err != nil:
		ui.PrintWarning("Run interrupted", err)
		return exitInterrupted, nil
	}
	return res.Stats.ExitCode(), nil
}

// newRunLogger builds the run logger. The dashboard owns stdout, so in that
// mode log lines only go to the configured file.
func newRunLogger(cfg *config.Config) (logger.Logger, io.Closer, error) {
	if !useTUI {
		return logger.New(&cfg.Logging)
	}
	if cfg.Logging.File == "" {
		return logger.NewNopLogger(), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log, err := logger.NewWithWriter(f, cfg.Logging.Level)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return log, f, nil
}

type batchOptions struct {
	Input string
	// Output defaults to the input path with an _updated suffix
	Output string
	// WorkDir overrides output.work_dir for this input
	WorkDir string
	// MirrorPrefix is prepended to mirrored object keys
	MirrorPrefix string
	// Display is an optional sink that renders progress
	Display pipeline.Sink
}

type batchResult struct {
	*pipeline.Result
	OutputPath string
	ReportPath string
	// WriteErr is set when the updated CSV could not be written
	WriteErr error
}

// runBatch reads the input, runs the coordinator with the configured sinks
// and writes the updated CSV, also after an interrupted run. A nil result
// means nothing was processed.
func runBatch(ctx context.Context, cfg *config.Config, opts batchOptions, log logger.Logger) (*batchResult, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	table, err := records.ReadCSV(opts.Input)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	workDir := cfg.Output.WorkDir
	if opts.WorkDir != "" {
		workDir = opts.WorkDir
	}
	store := storage.NewManager(workDir)
	dl := downloader.New(downloader.Config{
		Timeout:              cfg.Download.Timeout,
		DelayBetweenRequests: cfg.Download.DelayBetweenRequests,
		MaxRetries:           cfg.Download.MaxRetries,
		UserAgent:            cfg.Download.UserAgent,
	}, store, log)

	var sinks []pipeline.Sink
	if cfg.Output.WriteManifest {
		sinks = append(sinks, pipeline.NewManifestSink())
	}
	if cfg.Mirror.BucketURL != "" {
		m, err := mirror.Open(ctx, cfg.Mirror.BucketURL, log)
		if err != nil {
			return nil, err
		}
		defer m.Close()
		ms := pipeline.NewMirrorSink(m)
		ms.Prefix = opts.MirrorPrefix
		sinks = append(sinks, ms)
	}
	var reportSink *pipeline.ReportSink
	if cfg.Logging.ReportDir != "" {
		reportSink = pipeline.NewReportSink(cfg.Logging.ReportDir)
		sinks = append(sinks, reportSink)
	}
	if cfg.Metrics.Textfile != "" {
		sinks = append(sinks, pipeline.NewMetricsSink(metrics.New(), cfg.Metrics.Textfile))
	}
	if opts.Display != nil {
		sinks = append(sinks, opts.Display)
	}

	logger.LogComponentStart(log, "run", map[string]interface{}{
		"input":    opts.Input,
		"records":  len(table.Records),
		"work_dir": store.WorkDir(),
		"sinks":    len(sinks),
	})

	coord := pipeline.New(pipeline.Options{
		Formatter:        naming.Formatter{Layout: cfg.Naming.TimeFormat, Location: loc},
		DefaultExtension: cfg.Naming.DefaultExtension,
		SkipExisting:     cfg.Output.SkipExisting,
		Accounts:         cfg.Input.Accounts,
	}, store, dl, log, sinks...)

	res, runErr := coord.Run(ctx, table.Records)
	log.InfoWithFields("Folders resolved", map[string]interface{}{
		"work_dir": store.WorkDir(),
		"folders":  store.FolderCount(),
	})

	out := &batchResult{Result: res, OutputPath: opts.Output}
	if out.OutputPath == "" {
		out.OutputPath = records.DefaultOutputPath(opts.Input)
	}
	if reportSink != nil {
		out.ReportPath = reportSink.SummaryPath
	}
	if err := records.WriteCSV(out.OutputPath, table); err != nil {
		log.WithError(err).WithField("path", out.OutputPath).Error("Failed to write records")
		out.WriteErr = err
	}
	return out, runErr
}

func runDirectoryCommand(ctx context.Context, cfg *config.Config, log logger.Logger, newDisplay func() pipeline.Sink) int {
	res, err := runDirectory(ctx, cfg, dirOptions{
		Dir:       inputDir,
		Recursive: recursive,
		OutputDir: outputDir,
		NewDisplay: func(input string) pipeline.Sink {
			if !quiet && !useTUI {
				ui.PrintHighlight("\n" + input)
			}
			return newDisplay()
		},
	}, log)
	if err != nil {
		ui.PrintError("Run failed", err)
		return 1
	}

	if !quiet {
		fmt.Fprintln(ui.Output)
		for _, in := range res.Inputs {
			switch {
			case in.Result == nil:
				ui.PrintError(in.Input, in.Err)
			case in.Result.WriteErr != nil:
				ui.PrintError(in.Input, in.Result.WriteErr)
			default:
				ui.PrintInfo(in.Input, in.Result.Stats.Summary()+" -> "+in.Result.OutputPath)
				if in.Result.ReportPath != "" {
					ui.PrintWarning("Error summary", in.Result.ReportPath)
				}
			}
		}
		ui.PrintInfo("Records", res.Stats.Summary())
		if n := res.FailedInputs(); n > 0 {
			ui.PrintWarning("Failed inputs", n)
		}
	}
	if notifications {
		ui.NewNotifier().NotifyRun(res.Stats)
	}
	if res.Interrupted {
		ui.PrintWarning("Run interrupted", ctx.Err())
	}
	return res.ExitCode()
}

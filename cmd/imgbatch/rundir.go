package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"imgbatch/pkg/config"
	"imgbatch/pkg/errors"
	"imgbatch/pkg/logger"
	"imgbatch/pkg/pipeline"
	"imgbatch/pkg/records"
	"imgbatch/pkg/stats"
)

type dirOptions struct {
	Dir       string
	Recursive bool
	// OutputDir receives the updated CSVs in the same layout as Dir. When
	// empty each one is written next to its input.
	OutputDir string
	// NewDisplay returns the progress sink for one input, nil for none
	NewDisplay func(input string) pipeline.Sink
}

// inputRun is one input of a directory run. Result is nil when the input
// could not be processed at all, Err then says why.
type inputRun struct {
	Input  string
	Result *batchResult
	Err    error
}

type dirResult struct {
	Inputs []inputRun
	// Stats sums the record counters of every processed input
	Stats       stats.Stats
	Interrupted bool
}

// FailedInputs counts inputs that were not processed or not written back
func (r *dirResult) FailedInputs() int {
	n := 0
	for _, in := range r.Inputs {
		if in.Result == nil || in.Result.WriteErr != nil {
			n++
		}
	}
	return n
}

// ExitCode follows the single input rules: 1 when an input failed outright,
// 130 when interrupted, 2 when any record failed.
func (r *dirResult) ExitCode() int {
	switch {
	case r.FailedInputs() > 0:
		return 1
	case r.Interrupted:
		return exitInterrupted
	}
	return r.Stats.ExitCode()
}

// runDirectory runs every CSV found under opts.Dir as its own batch, one
// after the other. Each input gets a fresh coordinator and its images go to
// <work-dir>/<input path without extension>/, so equal entity folders in two
// inputs never share a directory. A failing input does not stop the rest;
// cancellation does.
func runDirectory(ctx context.Context, cfg *config.Config, opts dirOptions, log logger.Logger) (*dirResult, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	inputs, err := records.FindInputs(opts.Dir, opts.Recursive)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New(errors.KindRecordStore, "no CSV files found in %s", opts.Dir)
	}

	logger.LogComponentStart(log, "directory", map[string]interface{}{
		"dir":       opts.Dir,
		"recursive": opts.Recursive,
		"inputs":    len(inputs),
	})

	res := &dirResult{Stats: stats.New()}
	for i, input := range inputs {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		rel, err := filepath.Rel(opts.Dir, input)
		if err != nil {
			rel = filepath.Base(input)
		}
		stem := strings.TrimSuffix(rel, filepath.Ext(rel))

		ilog := log.WithField("input", input)
		ilog.InfoWithFields("Processing input", map[string]interface{}{
			"index":  i + 1,
			"inputs": len(inputs),
		})

		bo := batchOptions{
			Input:        input,
			WorkDir:      filepath.Join(cfg.Output.WorkDir, stem),
			MirrorPrefix: filepath.ToSlash(stem),
		}
		if opts.OutputDir != "" {
			bo.Output = filepath.Join(opts.OutputDir, records.DefaultOutputPath(rel))
			if err := os.MkdirAll(filepath.Dir(bo.Output), 0755); err != nil {
				err = errors.Wrap(errors.KindRecordStore, err, "creating output directory for %s", input)
				ilog.WithError(err).Error("Input failed")
				res.Inputs = append(res.Inputs, inputRun{Input: input, Err: err})
				continue
			}
		}
		if opts.NewDisplay != nil {
			bo.Display = opts.NewDisplay(input)
		}

		br, err := runBatch(ctx, cfg, bo, ilog)
		res.Inputs = append(res.Inputs, inputRun{Input: input, Result: br, Err: err})
		if br == nil {
			ilog.WithError(err).Error("Input failed")
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			continue
		}
		res.Stats.Merge(br.Stats)
		if err != nil {
			res.Interrupted = true
			break
		}
	}

	summary := res.Stats.Fields()
	summary["inputs"] = len(res.Inputs)
	summary["failed_inputs"] = res.FailedInputs()
	summary["interrupted"] = res.Interrupted
	log.InfoWithFields("Directory run finished", summary)

	return res, nil
}

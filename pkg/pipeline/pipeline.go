package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"imgbatch/internal/downloader"
	"imgbatch/pkg/errors"
	"imgbatch/pkg/grouping"
	"imgbatch/pkg/logger"
	"imgbatch/pkg/models"
	"imgbatch/pkg/naming"
	"imgbatch/pkg/stats"
	"imgbatch/pkg/storage"
)

// Downloader fetches one image into a destination
type Downloader interface {
	Download(ctx context.Context, rawURL string, dest downloader.Destination) downloader.Result
}

// Folders resolves per-entity target folders
type Folders interface {
	EnsureFolder(companyID, accountID, userID string) (storage.TargetFolder, error)
	Exists(folder storage.TargetFolder, name string) bool
}

// Options controls record selection and naming
type Options struct {
	Formatter        naming.Formatter
	DefaultExtension string
	// SkipExisting treats an already present target file as a success without a request
	SkipExisting bool
	// Accounts restricts the run to these account ids when non-empty
	Accounts []string
}

// Result is everything a run produced
type Result struct {
	RunID string
	// Records is the input slice, in input order, with FileName filled in
	Records []*models.Record
	// Outcomes holds one entry per processed record: rejections first, then
	// the rest in processing order
	Outcomes []models.Outcome
	Stats    stats.Stats
	Started  time.Time
	Finished time.Time
}

// Coordinator drives one batch run: filter, validate, group, then for each
// record resolve the folder, assign a name and download. Records are handled
// one at a time.
type Coordinator struct {
	opts    Options
	folders Folders
	dl      Downloader
	sinks   []Sink
	log     logger.Logger
	newID   func() string
	now     func() time.Time
}

// New creates a coordinator
func New(opts Options, folders Folders, dl Downloader, log logger.Logger, sinks ...Sink) *Coordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Coordinator{
		opts:    opts,
		folders: folders,
		dl:      dl,
		sinks:   sinks,
		log:     log.WithField("component", "coordinator"),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Run processes records and returns the enriched set. Per-record failures are
// recorded on the outcomes and never returned as an error; the only error is
// context cancellation, in which case records not yet reached keep the file
// name they came in with and the partial result is still returned.
func (c *Coordinator) Run(ctx context.Context, records []*models.Record) (*Result, error) {
	res := &Result{
		RunID:   c.newID(),
		Records: records,
		Stats:   stats.New(),
		Started: c.now(),
	}
	log := c.log.WithField("run_id", res.RunID)

	// Records outside the account filter are never validated or touched
	selected := grouping.Filter(records, c.opts.Accounts)
	valid, rejected := grouping.Validate(selected)
	groups := grouping.GroupByAccount(valid)

	log.InfoWithFields("Starting run", map[string]interface{}{
		"records":  len(records),
		"selected": len(selected),
		"rejected": len(rejected),
		"groups":   len(groups),
	})

	c.startSinks(ctx, log, res.RunID, len(selected))

	for _, rj := range rejected {
		rj.Record.FileName = nil
		c.finishRecord(ctx, log, res, models.Outcome{
			Record: rj.Record,
			Status: models.StatusFailed,
			Err:    rj.Err,
		}, storage.TargetFolder{})
	}

	assigner := naming.NewAssigner()
	var runErr error

groups:
	for _, g := range groups {
		log.DebugWithFields("Processing group", map[string]interface{}{
			"account_id": g.AccountID,
			"records":    len(g.Records),
		})

		for _, rec := range g.Records {
			if err := ctx.Err(); err != nil {
				runErr = err
				break groups
			}
			outcome, folder := c.processRecord(ctx, rec, assigner)
			c.finishRecord(ctx, log, res, outcome, folder)
		}
	}

	res.Finished = c.now()
	c.finishSinks(ctx, log, res)

	summary := res.Stats.Fields()
	summary["duration_ms"] = res.Finished.Sub(res.Started).Milliseconds()
	logger.LogRunSummary(log, res.RunID, summary)

	if runErr != nil {
		log.WithError(runErr).Warn("Run interrupted")
	}
	return res, runErr
}

// processRecord moves one record from pending to a terminal status
func (c *Coordinator) processRecord(ctx context.Context, rec *models.Record, assigner *naming.Assigner) (models.Outcome, storage.TargetFolder) {
	start := c.now()
	rec.FileName = nil
	out := models.Outcome{Record: rec, Status: models.StatusPending}

	fail := func(err error) models.Outcome {
		out.Status = c.advance(rec, out.Status, models.StatusFailed)
		out.Err = err
		out.Attempts = errors.AttemptsOf(err)
		out.Elapsed = c.now().Sub(start)
		return out
	}

	folder, err := c.folders.EnsureFolder(rec.CompanyID, rec.AccountID, rec.UserID)
	if err != nil {
		return fail(err), folder
	}
	out.Status = c.advance(rec, out.Status, models.StatusFolderReady)

	stem := c.opts.Formatter.Stem(rec.CreateTime)
	ext := naming.Extension(rec.ImageURL, c.opts.DefaultExtension)
	name := assigner.Assign(folder.Key, stem, ext)
	out.FileName = name

	if c.opts.SkipExisting && c.folders.Exists(folder, name) {
		out.Status = c.advance(rec, out.Status, models.StatusSucceeded)
		out.Skipped = true
		out.Elapsed = c.now().Sub(start)
		rec.SetFileName(name)
		return out, folder
	}

	out.Status = c.advance(rec, out.Status, models.StatusDownloading)
	r := c.dl.Download(ctx, rec.ImageURL, downloader.Destination{Folder: folder, Name: name})
	if r.Err != nil {
		out = fail(r.Err)
		out.Attempts = r.Attempts
		return out, folder
	}

	out.Status = c.advance(rec, out.Status, models.StatusSucceeded)
	out.Attempts = r.Attempts
	out.Bytes = r.Bytes
	out.Elapsed = c.now().Sub(start)
	rec.SetFileName(name)
	return out, folder
}

// advance applies a status transition. An illegal move is a programming
// error; it is logged and the target status is used anyway.
func (c *Coordinator) advance(rec *models.Record, from, to models.Status) models.Status {
	next, err := from.Transition(to)
	if err != nil {
		c.log.WithError(err).WithField("row", rec.Row).Error("Status transition rejected")
		return to
	}
	return next
}

func (c *Coordinator) finishRecord(ctx context.Context, log logger.Logger, res *Result, o models.Outcome, folder storage.TargetFolder) {
	res.Outcomes = append(res.Outcomes, o)
	res.Stats.Record(o)

	fields := log
	if folder.Path != "" && o.FileName != "" {
		fields = log.WithField("path", filepath.Join(folder.Path, o.FileName))
	}
	logger.LogRecordOutcome(fields, o.Record.Row, o.Record.AccountID, o.Record.FileNameOrEmpty(), o.Attempts, o.Skipped, o.Err)

	for _, s := range c.sinks {
		if err := s.Record(ctx, o, folder); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"sink": s.Name(),
				"row":  o.Record.Row,
			}).Warn("Sink failed to record outcome")
		}
	}
}

func (c *Coordinator) startSinks(ctx context.Context, log logger.Logger, runID string, total int) {
	for _, s := range c.sinks {
		if err := s.Start(ctx, runID, total); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Warn("Sink failed to start")
		}
	}
}

func (c *Coordinator) finishSinks(ctx context.Context, log logger.Logger, res *Result) {
	for _, s := range c.sinks {
		if err := s.Finish(ctx, res); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Warn("Sink failed to finish")
		}
	}
}

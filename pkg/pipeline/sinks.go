package pipeline

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"imgbatch/pkg/manifest"
	"imgbatch/pkg/metrics"
	"imgbatch/pkg/mirror"
	"imgbatch/pkg/models"
	"imgbatch/pkg/report"
	"imgbatch/pkg/storage"
)

// Sink observes a run. Errors are logged by the coordinator and never
// change a record's outcome.
type Sink interface {
	Name() string
	Start(ctx context.Context, runID string, total int) error
	Record(ctx context.Context, o models.Outcome, folder storage.TargetFolder) error
	Finish(ctx context.Context, res *Result) error
}

// ManifestSink maintains manifest.json in every folder that received a file
type ManifestSink struct {
	w *manifest.Writer
}

// NewManifestSink creates a manifest sink
func NewManifestSink() *ManifestSink {
	return &ManifestSink{w: manifest.NewWriter()}
}

func (s *ManifestSink) Name() string { return "manifest" }

func (s *ManifestSink) Start(context.Context, string, int) error { return nil }

func (s *ManifestSink) Record(_ context.Context, o models.Outcome, folder storage.TargetFolder) error {
	if !o.Succeeded() {
		return nil
	}
	return s.w.Add(folder.Path, o.Record, o.FileName)
}

func (s *ManifestSink) Finish(_ context.Context, res *Result) error {
	return s.w.Flush(res.RunID)
}

// MirrorSink uploads every stored file, skipped ones included, to a bucket
type MirrorSink struct {
	m *mirror.Mirror
	// Prefix is prepended to every object key
	Prefix string
}

// NewMirrorSink wraps an open mirror. The caller keeps ownership of m.
func NewMirrorSink(m *mirror.Mirror) *MirrorSink {
	return &MirrorSink{m: m}
}

func (s *MirrorSink) Name() string { return "mirror" }

func (s *MirrorSink) Start(context.Context, string, int) error { return nil }

func (s *MirrorSink) Record(ctx context.Context, o models.Outcome, folder storage.TargetFolder) error {
	if !o.Succeeded() {
		return nil
	}
	key := mirror.Key(path.Join(s.Prefix, folder.Key), o.FileName)
	_, err := s.m.Upload(ctx, key, filepath.Join(folder.Path, o.FileName))
	return err
}

func (s *MirrorSink) Finish(context.Context, *Result) error { return nil }

// ReportSink writes failed records to the error report files
type ReportSink struct {
	dir string
	r   *report.Reporter
	// SummaryPath is set after Finish when a summary was written
	SummaryPath string
}

// NewReportSink creates a report sink writing under dir
func NewReportSink(dir string) *ReportSink {
	return &ReportSink{dir: dir}
}

func (s *ReportSink) Name() string { return "report" }

func (s *ReportSink) Start(_ context.Context, runID string, _ int) error {
	s.r = report.New(s.dir, runID)
	return nil
}

func (s *ReportSink) Record(_ context.Context, o models.Outcome, folder storage.TargetFolder) error {
	target := ""
	if folder.Path != "" && o.FileName != "" {
		target = filepath.Join(folder.Path, o.FileName)
	}
	return s.r.Failure(o, target)
}

func (s *ReportSink) Finish(_ context.Context, res *Result) error {
	summary, err := s.r.Finish(res.Stats)
	s.SummaryPath = summary
	return err
}

// DetailPath is the detailed error log of the current run
func (s *ReportSink) DetailPath() string {
	if s.r == nil || s.r.Count() == 0 {
		return ""
	}
	return s.r.DetailPath()
}

// MetricsSink feeds Prometheus collectors and writes the textfile at the end
type MetricsSink struct {
	m    *metrics.Metrics
	path string
}

// NewMetricsSink creates a metrics sink exporting to path
func NewMetricsSink(m *metrics.Metrics, path string) *MetricsSink {
	return &MetricsSink{m: m, path: path}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Start(context.Context, string, int) error { return nil }

func (s *MetricsSink) Record(_ context.Context, o models.Outcome, _ storage.TargetFolder) error {
	s.m.Observe(o)
	return nil
}

func (s *MetricsSink) Finish(_ context.Context, res *Result) error {
	at := res.Finished
	if at.IsZero() {
		at = time.Now()
	}
	s.m.Finish(res.Stats, at)
	return s.m.WriteTextfile(s.path)
}

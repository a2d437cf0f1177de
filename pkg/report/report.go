// Package report writes human readable failure reports for a run: a
// detailed per-record error log and an end-of-run summary by error class.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
	"imgbatch/pkg/stats"
)

const (
	detailPrefix  = "detailed_errors_"
	summaryPrefix = "error_summary_"
	stampLayout   = "20060102_150405"
	lineLayout    = "2006-01-02 15:04:05"
	maxURLLen     = 100
	topReasons    = 5
)

// Reporter accumulates failures for one run. Files are created on the first
// failure, so a clean run leaves nothing behind.
type Reporter struct {
	dir   string
	runID string
	stamp string
	now   func() time.Time

	detail  *os.File
	reasons map[string]int
	count   int
	mu      sync.Mutex
}

// New creates a reporter writing under dir
func New(dir, runID string) *Reporter {
	return newReporter(dir, runID, time.Now)
}

func newReporter(dir, runID string, now func() time.Time) *Reporter {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return &Reporter{
		dir:     dir,
		runID:   runID,
		stamp:   now().Format(stampLayout) + "_" + short,
		now:     now,
		reasons: make(map[string]int),
	}
}

// DetailPath is the detailed log location for this run
func (r *Reporter) DetailPath() string {
	return filepath.Join(r.dir, detailPrefix+r.stamp+".log")
}

// SummaryPath is the summary location for this run
func (r *Reporter) SummaryPath() string {
	return filepath.Join(r.dir, summaryPrefix+r.stamp+".log")
}

// Count returns the number of failures reported
func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Failure appends one failed outcome to the detailed log. target is the
// path the image would have been written to, empty when unknown.
func (r *Reporter) Failure(o models.Outcome, target string) error {
	if o.Succeeded() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.detail == nil {
		if err := os.MkdirAll(r.dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		f, err := os.OpenFile(r.DetailPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open error log: %w", err)
		}
		fmt.Fprintf(f, "download error log run=%s started=%s\n%s\n\n", r.runID, r.now().Format(lineLayout), strings.Repeat("=", 80))
		r.detail = f
	}

	r.count++
	kind := errors.KindOf(o.Err)
	reason := "unknown"
	if o.Err != nil {
		reason = o.Err.Error()
		if len(reason) > 120 {
			reason = reason[:120]
		}
	}
	r.reasons[reason]++

	rec := o.Record
	if rec == nil {
		rec = &models.Record{Row: -1}
	}
	url := rec.ImageURL
	if len(url) > maxURLLen {
		url = url[:maxURLLen] + "..."
	}

	lines := []string{
		fmt.Sprintf("[%s] [%s] row %d failed after %d attempt(s)", r.now().Format(lineLayout), kind, rec.Row, o.Attempts),
		fmt.Sprintf("  create_time: %s", rec.CreateTimeRaw),
		fmt.Sprintf("  account_id: %s  user_id: %s  company_id: %s", rec.AccountID, rec.UserID, rec.CompanyID),
		fmt.Sprintf("  image_url: %s", url),
		fmt.Sprintf("  title: %s", rec.Title),
		fmt.Sprintf("  target: %s", target),
		fmt.Sprintf("  error: %s", reason),
		strings.Repeat("-", 80),
	}
	if _, err := fmt.Fprintln(r.detail, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write error log: %w", err)
	}
	return nil
}

// Finish writes the summary when any failure was reported and closes the
// detailed log. It returns the summary path, empty when nothing was written.
func (r *Reporter) Finish(s stats.Stats) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.detail != nil {
		if err := r.detail.Close(); err != nil {
			return "", fmt.Errorf("failed to close error log: %w", err)
		}
		r.detail = nil
	}
	if s.Failed == 0 && r.count == 0 {
		return "", nil
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nerror summary run=%s at %s\n", strings.Repeat("=", 80), r.runID, r.now().Format(lineLayout))
	fmt.Fprintf(&b, "records: %s\n", s.Summary())

	b.WriteString("- failures by class:\n")
	kinds := make([]string, 0, len(s.ByClass))
	for k := range s.ByClass {
		kinds = append(kinds, string(k))
	}
	sort.Slice(kinds, func(i, j int) bool {
		ci, cj := s.ByClass[errors.Kind(kinds[i])], s.ByClass[errors.Kind(kinds[j])]
		if ci != cj {
			return ci > cj
		}
		return kinds[i] < kinds[j]
	})
	for _, k := range kinds {
		fmt.Fprintf(&b, "  * %s: %d\n", k, s.ByClass[errors.Kind(k)])
	}

	b.WriteString("- most common reasons:\n")
	for _, rc := range r.topReasons() {
		fmt.Fprintf(&b, "  * %s x%d\n", rc.reason, rc.count)
	}

	if hints := suggestions(s.ByClass); len(hints) > 0 {
		b.WriteString("- suggestions:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "  * %s\n", h)
		}
	}

	path := r.SummaryPath()
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write error summary: %w", err)
	}
	return path, nil
}

type reasonCount struct {
	reason string
	count  int
}

func (r *Reporter) topReasons() []reasonCount {
	out := make([]reasonCount, 0, len(r.reasons))
	for reason, n := range r.reasons {
		out = append(out, reasonCount{reason, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].reason < out[j].reason
	})
	if len(out) > topReasons {
		out = out[:topReasons]
	}
	return out
}

func suggestions(byClass map[errors.Kind]int) []string {
	var hints []string
	if byClass[errors.KindTransientDownload]+byClass[errors.KindPermanentDownload] > 0 {
		hints = append(hints, "check network access and proxies, raise download.timeout or download.max_retries")
	}
	if byClass[errors.KindFolderCreation]+byClass[errors.KindWrite] > 0 {
		hints = append(hints, "check that output.work_dir is writable and has free space")
	}
	if byClass[errors.KindDataValidation] > 0 {
		hints = append(hints, "fix rows with empty ids, invalid create_time or non-http image_url")
	}
	return hints
}

// Clean removes report files in dir older than retentionDays. A retention
// of zero or less removes every report. It returns the number of files
// removed; a missing dir is not an error.
func Clean(dir string, retentionDays int) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isReport(e.Name()) {
			continue
		}
		if retentionDays > 0 {
			info, err := e.Info()
			if err != nil {
				return removed, err
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func isReport(name string) bool {
	return strings.HasSuffix(name, ".log") &&
		(strings.HasPrefix(name, detailPrefix) || strings.HasPrefix(name, summaryPrefix))
}

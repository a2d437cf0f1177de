package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"imgbatch/pkg/models"
	"imgbatch/pkg/pipeline"
	"imgbatch/pkg/storage"
)

// ProgressDisplay redraws one status line per finished record. In verbose
// mode it prints one line per record instead. It is a pipeline sink.
type ProgressDisplay struct {
	mu        sync.Mutex
	out       io.Writer
	verbose   bool
	total     int
	succeeded int
	skipped   int
	failed    int
	bytes     int64
	current   string
	startTime time.Time
	now       func() time.Time
}

// NewProgressDisplay creates a display writing to out
func NewProgressDisplay(out io.Writer, verbose bool) *ProgressDisplay {
	return &ProgressDisplay{out: out, verbose: verbose, now: time.Now}
}

func (p *ProgressDisplay) Name() string { return "progress" }

func (p *ProgressDisplay) Start(_ context.Context, runID string, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.startTime = p.now()
	if p.verbose {
		fmt.Fprintf(p.out, "%s run %s, %d records\n", Magenta("→"), runID, total)
	}
	return nil
}

func (p *ProgressDisplay) Record(_ context.Context, o models.Outcome, _ storage.TargetFolder) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = o.FileName
	switch {
	case !o.Succeeded():
		p.failed++
	case o.Skipped:
		p.succeeded++
		p.skipped++
	default:
		p.succeeded++
		p.bytes += o.Bytes
	}

	if p.verbose {
		p.printRecord(o)
	} else {
		p.printProgress()
	}
	return nil
}

func (p *ProgressDisplay) Finish(_ context.Context, res *pipeline.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := res.Finished.Sub(res.Started)
	mark := Green("✓")
	if res.Stats.Failed > 0 {
		mark = Yellow("⚠")
	}

	fmt.Fprintf(p.out, "\n%s %d of %d records stored\n", mark, res.Stats.Succeeded, res.Stats.Total)
	fmt.Fprintf(p.out, "  %s %s in %s", Dim("•"), formatBytes(p.bytes), formatDuration(elapsed))
	if res.Stats.Skipped > 0 {
		fmt.Fprintf(p.out, ", %d already present", res.Stats.Skipped)
	}
	fmt.Fprintln(p.out)
	if res.Stats.Failed > 0 {
		fmt.Fprintf(p.out, "  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d records failed", res.Stats.Failed)))
	}
	return nil
}

func (p *ProgressDisplay) done() int {
	return p.succeeded + p.failed
}

// printProgress prints the minimal progress line
func (p *ProgressDisplay) printProgress() {
	elapsed := p.now().Sub(p.startTime)

	var progress float64
	if p.total > 0 {
		progress = float64(p.done()) / float64(p.total)
	}
	const barWidth = 20
	filled := int(progress * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("[%s] %d/%d • %s • %s",
		bar,
		p.done(),
		p.total,
		formatBytes(p.bytes),
		p.eta(elapsed),
	)
	if p.current != "" {
		line += " • " + p.current
	}
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

func (p *ProgressDisplay) printRecord(o models.Outcome) {
	row := fmt.Sprintf("row %d", o.Record.Row)
	switch {
	case !o.Succeeded():
		reason := "unknown error"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		fmt.Fprintf(p.out, "%s %s • %s\n", Red("✗"), row, reason)
	case o.Skipped:
		fmt.Fprintf(p.out, "%s %s • %s • %s\n", Dim("="), row, o.FileName, Dim("present"))
	default:
		line := fmt.Sprintf("%s %s • %s • %s", Green("✓"), row, o.FileName, formatBytes(o.Bytes))
		if o.Attempts > 1 {
			line += " • " + Dim(fmt.Sprintf("%d attempts", o.Attempts))
		}
		fmt.Fprintln(p.out, line)
	}
}

// eta estimates time remaining
func (p *ProgressDisplay) eta(elapsed time.Duration) string {
	done := p.done()
	if done == 0 || elapsed <= 0 {
		return "calculating..."
	}
	rate := float64(done) / elapsed.Seconds()
	remaining := p.total - done
	if remaining < 0 {
		remaining = 0
	}
	return formatDuration(time.Duration(float64(remaining)/rate) * time.Second)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	levelInfo    = "INFO"
	levelSuccess = "SUCCESS"
	levelWarn    = "WARN"
	levelError   = "ERROR"
)

// Event is one line in the activity panel
type Event struct {
	Time    time.Time
	Level   string
	Message string
}

// AccountProgress counts finished records of one account
type AccountProgress struct {
	AccountID string
	Succeeded int
	Failed    int
}

// Model is the live run view
type Model struct {
	spinner spinner.Model
	bar     progress.Model

	runID     string
	total     int
	succeeded int
	skipped   int
	failed    int
	bytes     int64
	current   string

	accounts     map[string]*AccountProgress
	accountOrder []string

	events    []Event
	maxEvents int

	started  time.Time
	finished bool
	summary  string

	// cancel stops the run when the user quits early
	cancel          func()
	cancelRequested bool

	width    int
	height   int
	showHelp bool

	now func() time.Time
}

// NewModel creates the view for a run of total records
func NewModel(runID string, total int, cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	return Model{
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient()),
		runID:     runID,
		total:     total,
		accounts:  make(map[string]*AccountProgress),
		maxEvents: 50,
		cancel:    cancel,
		started:   time.Now(),
		now:       time.Now,
	}
}

// Init starts the spinner
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Done is the number of records with a final outcome
func (m Model) Done() int {
	return m.succeeded + m.failed
}

// Percent is the finished share of the run in [0, 1]
func (m Model) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	p := float64(m.Done()) / float64(m.total)
	if p > 1 {
		p = 1
	}
	return p
}

// Finished reports whether the run has ended
func (m Model) Finished() bool {
	return m.finished
}

// Counts returns succeeded, skipped and failed totals
func (m Model) Counts() (succeeded, skipped, failed int) {
	return m.succeeded, m.skipped, m.failed
}

// Accounts returns per-account progress in first-seen order
func (m Model) Accounts() []AccountProgress {
	out := make([]AccountProgress, 0, len(m.accountOrder))
	for _, id := range m.accountOrder {
		out = append(out, *m.accounts[id])
	}
	return out
}

// Events returns the retained activity lines, oldest first
func (m Model) Events() []Event {
	return m.events
}

func (m *Model) recordDone(msg RecordDoneMsg) {
	acc, ok := m.accounts[msg.AccountID]
	if !ok {
		acc = &AccountProgress{AccountID: msg.AccountID}
		m.accounts[msg.AccountID] = acc
		m.accountOrder = append(m.accountOrder, msg.AccountID)
	}

	m.current = msg.FileName
	switch {
	case msg.Err != "":
		m.failed++
		acc.Failed++
		m.addEvent(levelError, fmt.Sprintf("row %d failed: %s", msg.Row, msg.Err))
	case msg.Skipped:
		m.succeeded++
		m.skipped++
		acc.Succeeded++
		m.addEvent(levelInfo, fmt.Sprintf("row %d present: %s", msg.Row, msg.FileName))
	default:
		m.succeeded++
		acc.Succeeded++
		m.bytes += msg.Bytes
		line := fmt.Sprintf("row %d stored: %s (%s)", msg.Row, msg.FileName, FormatBytes(msg.Bytes))
		if msg.Attempts > 1 {
			line += fmt.Sprintf(" after %d attempts", msg.Attempts)
		}
		m.addEvent(levelSuccess, line)
	}
}

func (m *Model) addEvent(level, message string) {
	m.events = append(m.events, Event{Time: m.now(), Level: level, Message: message})
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
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

// FormatSpeed formats a transfer rate
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

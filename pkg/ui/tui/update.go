package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RecordDoneMsg is sent when a record reaches a final outcome
type RecordDoneMsg struct {
	Row       int
	AccountID string
	FileName  string
	Bytes     int64
	Attempts  int
	Skipped   bool
	// Err is empty on success
	Err string
}

// RunFinishedMsg is sent once the coordinator has processed every record
type RunFinishedMsg struct {
	Summary  string
	Duration time.Duration
}

// Update handles all messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, msg.Width-30)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		if bar, ok := pm.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd

	case RecordDoneMsg:
		m.recordDone(msg)
		return m, nil

	case RunFinishedMsg:
		m.finished = true
		m.summary = msg.Summary
		level := levelSuccess
		if m.failed > 0 {
			level = levelWarn
		}
		m.addEvent(level, "run finished in "+formatDuration(msg.Duration))
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.finished {
			return m, tea.Quit
		}
		// The view stays up until the coordinator reports the partial run
		if !m.cancelRequested && m.cancel != nil {
			m.cancelRequested = true
			m.cancel()
			m.addEvent(levelWarn, "cancel requested, stopping after the current record")
		}
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.events = nil
		return m, nil
	}

	return m, nil
}

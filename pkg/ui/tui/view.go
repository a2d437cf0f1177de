package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const logo = `╦╔╦╗╔═╗╔╗ ╔═╗╔╦╗╔═╗╦ ╦
║║║║║ ╦╠╩╗╠═╣ ║ ║  ╠═╣
╩╩ ╩╚═╝╚═╝╩ ╩ ╩ ╚═╝╩ ╩`

// View renders the run
func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}

	sections := []string{
		logoStyle.Render(logo),
		m.renderProgressPanel(width - 4),
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderAccountsPanel((width-6)/2),
			"  ",
			m.renderEventsPanel((width-6)/2),
		),
	}

	if m.showHelp {
		sections = append(sections, helpStyle.Render("q / ctrl+c  stop after the current record\nctrl+l      clear activity\n?           toggle help"))
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderProgressPanel(width int) string {
	title := titleStyle.Render(" RUN " + shortID(m.runID) + " ")

	state := m.spinner.View() + " processing " + m.current
	switch {
	case m.finished:
		state = successStyle.Render("✓ finished")
	case m.cancelRequested:
		state = warningStyle.Render("⏸  stopping")
	}

	elapsed := m.now().Sub(m.started)
	var speed float64
	if elapsed.Seconds() > 0 {
		speed = float64(m.bytes) / elapsed.Seconds()
	}

	stats := []string{
		state,
		m.bar.ViewAs(m.Percent()),
		stat("Records:", fmt.Sprintf("%d/%d", m.Done(), m.total)),
		stat("Stored:", fmt.Sprintf("%d (%d already present)", m.succeeded, m.skipped)),
		stat("Failed:", fmt.Sprintf("%d", m.failed)),
		stat("Transferred:", FormatBytes(m.bytes)+" @ "+FormatSpeed(speed)),
		stat("Elapsed:", formatDuration(elapsed)),
	}
	if m.summary != "" {
		stats = append(stats, dimStyle.Render(m.summary))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func (m Model) renderAccountsPanel(width int) string {
	title := titleStyle.Render(" ACCOUNTS ")

	accounts := m.Accounts()
	if len(accounts) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, dimStyle.Render("Waiting for the first record")),
		)
	}

	const shown = 8
	start := 0
	if len(accounts) > shown {
		start = len(accounts) - shown
	}

	var lines []string
	if start > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("... %d earlier", start)))
	}
	for _, a := range accounts[start:] {
		line := fmt.Sprintf("%-16s %s", a.AccountID, successStyle.Render(fmt.Sprintf("✓ %d", a.Succeeded)))
		if a.Failed > 0 {
			line += " " + errorStyle.Render(fmt.Sprintf("✗ %d", a.Failed))
		}
		lines = append(lines, line)
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func (m Model) renderEventsPanel(width int) string {
	title := titleStyle.Render(" ACTIVITY ")

	const shown = 10
	events := m.events
	if len(events) > shown {
		events = events[len(events)-shown:]
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		msg := e.Message
		if limit := width - 14; limit > 3 && len(msg) > limit {
			msg = msg[:limit-3] + "..."
		}
		lines = append(lines, timestampStyle.Render(e.Time.Format("15:04:05"))+" "+eventStyle(e.Level).Render(msg))
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("No activity yet"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func stat(label, value string) string {
	return statsLabelStyle.Render(label) + " " + statsValueStyle.Render(value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

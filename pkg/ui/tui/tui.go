// Package tui renders a live view of a batch run. TUI plugs into the
// coordinator as a sink; the bubbletea program runs on its own goroutine
// and is fed messages as records finish.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"imgbatch/pkg/models"
	"imgbatch/pkg/pipeline"
	"imgbatch/pkg/storage"
)

// TUI represents the terminal user interface
type TUI struct {
	cancel  context.CancelFunc
	opts    []tea.ProgramOption
	program *tea.Program
	done    chan error
	final   Model
}

// New creates a TUI. cancel is called when the user quits before the run
// ends; opts are passed to bubbletea, e.g. tea.WithAltScreen().
func New(cancel context.CancelFunc, opts ...tea.ProgramOption) *TUI {
	return &TUI{cancel: cancel, opts: opts}
}

func (t *TUI) Name() string { return "tui" }

// Start launches the program for a run of total records
func (t *TUI) Start(_ context.Context, runID string, total int) error {
	t.program = tea.NewProgram(NewModel(runID, total, t.cancel), t.opts...)
	t.done = make(chan error, 1)

	go func() {
		m, err := t.program.Run()
		if fm, ok := m.(Model); ok {
			t.final = fm
		}
		t.done <- err
	}()
	return nil
}

func (t *TUI) Record(_ context.Context, o models.Outcome, _ storage.TargetFolder) error {
	if t.program == nil {
		return fmt.Errorf("tui not started")
	}
	msg := RecordDoneMsg{
		Row:       o.Record.Row,
		AccountID: o.Record.AccountID,
		FileName:  o.FileName,
		Bytes:     o.Bytes,
		Attempts:  o.Attempts,
		Skipped:   o.Skipped,
	}
	if !o.Succeeded() {
		msg.Err = "unknown error"
		if o.Err != nil {
			msg.Err = o.Err.Error()
		}
	}
	t.program.Send(msg)
	return nil
}

// Finish reports the end of the run and waits for the program to exit
func (t *TUI) Finish(_ context.Context, res *pipeline.Result) error {
	if t.program == nil {
		return nil
	}
	t.program.Send(RunFinishedMsg{
		Summary:  res.Stats.Summary(),
		Duration: res.Finished.Sub(res.Started),
	})
	return <-t.done
}

// Final is the model as it was when the program exited
func (t *TUI) Final() Model {
	return t.final
}

package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"blockvm/internal/bench"
	"blockvm/internal/ui"
)

type benchOutcome struct {
	report bench.Report
	err    error
}

func runBenchWithUI(ctx context.Context, title string, req *bench.Request) (bench.Report, error) {
	events := make(chan bench.Event, 256)
	outcomeCh := make(chan benchOutcome, 1)

	go func() {
		reqCopy := *req
		reqCopy.Progress = bench.ChannelSink{Ch: events}
		rep, err := bench.Run(ctx, &reqCopy)
		outcomeCh <- benchOutcome{report: rep, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, req.Activations, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// The user may quit early; keep the bench from blocking on a channel
	// nobody reads.
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}

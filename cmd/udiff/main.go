package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/sokinpui/udiff/cli"
	"github.com/sokinpui/udiff/internal/tui"
	"github.com/sokinpui/udiff/internal/ui"
	"github.com/sokinpui/udiff/udiff"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cli.ParseFlags()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	app, err := udiff.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return 1
	}
	defer app.Close()

	// Flags that print to stdout and should not run the TUI.
	if udiff.IsPrintMode(cfg) || cfg.NoAnimation {
		return runPlain(app, cfg)
	}

	model := tui.New(app)
	p := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	model.SetProgram(p)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		return 1
	}
	if model.Err() != nil || len(model.Summary().Failed) > 0 {
		return 1
	}
	return 0
}

func runPlain(app *udiff.App, cfg *cli.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var bar *ui.ProgressBar
	app.SetProgressCallback(func(current, total int) {
		if bar == nil {
			bar = ui.NewProgressBar(total, "Writing")
			bar.Start()
			return
		}
		bar.Increment()
	})

	summary, err := app.Execute(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		var detailed *udiff.DetailedError
		if errors.As(err, &detailed) {
			fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
		}
		ui.Error("Error: %v", err)
		return 1
	}

	switch {
	case cfg.Revert:
		ui.PrintRevertSummary(append(summary.Modified, append(summary.Created, summary.Deleted...)...), summary.Failed)
	case cfg.Redo:
		ui.PrintRedoSummary(append(summary.Modified, append(summary.Created, summary.Deleted...)...), summary.Failed)
	case udiff.IsPrintMode(cfg):
		if summary.Message != "" {
			ui.Info("%s", summary.Message)
		}
	default:
		ui.PrintUpdateSummary(summary)
	}
	if len(summary.Failed) > 0 {
		return 1
	}
	return 0
}

// Package app wires the braid engine into a runnable host
// application: logger setup, store selection, plan loading, report
// printing and watch mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/engine"
	"github.com/braidbuild/braid/internal/exec"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/store"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
}

// NewApp is the constructor for the main application, with its own
// isolated logger.
func NewApp(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	return &App{outW: outW, logger: logger, config: config}
}

// Run executes the configured plan once, or repeatedly in watch mode.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	eng := engine.New(st, BuiltinFunctions(), a.config.WorkerCount)

	if a.config.Watch {
		return a.watch(ctx, eng)
	}
	return a.runOnce(ctx, eng)
}

// openStore picks the persistent SQLite backend when a path is
// configured, otherwise an ephemeral in-memory store.
func (a *App) openStore(ctx context.Context) (store.Store, error) {
	if a.config.StorePath == "" {
		a.logger.Debug("Using in-memory result store.")
		return store.NewMem(), nil
	}
	a.logger.Debug("Opening SQLite result store.", "path", a.config.StorePath)
	return store.OpenSQLite(ctx, a.config.StorePath)
}

// runOnce loads the plan, runs it and prints the report. A run with
// failed or skipped targets returns an error so the CLI exits
// non-zero.
func (a *App) runOnce(ctx context.Context, eng *engine.Engine) error {
	p, err := plan.LoadPath(ctx, a.config.PlanPath)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}

	report, err := eng.Run(ctx, p)
	if err != nil {
		return err
	}

	a.printReport(report)

	if !report.OK() {
		return fmt.Errorf("run finished with %d failed and %d skipped targets",
			report.Count(exec.Failed), report.Count(exec.Skipped))
	}
	return nil
}

// printReport renders every node's terminal status to the output
// writer.
func (a *App) printReport(report *engine.Report) {
	for _, s := range report.Statuses {
		switch s.Status {
		case exec.Done:
			if s.Cached {
				fmt.Fprintf(a.outW, "✅ %s (cached)\n", s.ID)
			} else {
				fmt.Fprintf(a.outW, "✅ %s\n", s.ID)
			}
		case exec.Failed:
			fmt.Fprintf(a.outW, "❌ %s: %v\n", s.ID, s.Err)
		case exec.Skipped:
			fmt.Fprintf(a.outW, "⏭️ %s: %v\n", s.ID, s.Err)
		default:
			fmt.Fprintf(a.outW, "❓ %s: %s\n", s.ID, s.Status)
		}
	}
	fmt.Fprintf(a.outW, "done: %d  failed: %d  skipped: %d\n",
		report.Count(exec.Done), report.Count(exec.Failed), report.Count(exec.Skipped))
}

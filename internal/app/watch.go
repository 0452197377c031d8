package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/engine"
)

// debounceWindow coalesces editor write bursts into a single re-run.
const debounceWindow = 300 * time.Millisecond

// watch runs the plan, then re-runs it whenever the plan path changes.
// Combined with a persistent store this gives incremental rebuilds:
// only targets whose commands or inputs changed are recomputed.
func (a *App) watch(ctx context.Context, eng *engine.Engine) error {
	logger := ctxlog.FromContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(a.config.PlanPath); err != nil {
		return err
	}
	// Watching a file's directory catches atomic-rename saves.
	if info, err := os.Stat(a.config.PlanPath); err == nil && !info.IsDir() {
		_ = watcher.Add(filepath.Dir(a.config.PlanPath))
	}

	if err := a.runOnce(ctx, eng); err != nil {
		logger.Error("Run failed, waiting for changes.", "error", err)
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("Plan change detected.", "event", event.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)
		case <-pending:
			logger.Info("🔁 Plan changed, re-running")
			if err := a.runOnce(ctx, eng); err != nil {
				logger.Error("Run failed, waiting for changes.", "error", err)
			}
		}
	}
}

// Package testutil provides the shared harness for engine-level tests:
// plans written as inline HCL, counting command functions, and log
// capture.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/braidbuild/braid/internal/ctxlog"
	"github.com/braidbuild/braid/internal/engine"
	"github.com/braidbuild/braid/internal/plan"
	"github.com/braidbuild/braid/internal/store"
)

// SafeBuffer is a thread-safe buffer for capturing log output in
// tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Result holds the outcomes of a harness run.
type Result struct {
	Ctx    context.Context
	Engine *engine.Engine
	Plan   *plan.Plan
	Report *engine.Report
	Err    error
	Log    *SafeBuffer
}

// Context returns a background context carrying a debug logger that
// writes into the given buffer.
func Context(buf *SafeBuffer) context.Context {
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger)
}

// ParsePlan loads a plan from inline HCL source, via a temp file so
// command source ranges behave exactly as they do for real plan files.
func ParsePlan(t *testing.T, ctx context.Context, src string) *plan.Plan {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	p, err := plan.LoadPath(ctx, path)
	require.NoError(t, err)
	return p
}

// RunPlan parses the plan source and runs it against a fresh in-memory
// store. Run-level errors (cycles, unknown references) land in
// Result.Err with a nil Report.
func RunPlan(t *testing.T, src string, funcs map[string]function.Function) *Result {
	t.Helper()
	return RunPlanWithStore(t, src, funcs, store.NewMem())
}

// RunPlanWithStore is RunPlan against a caller-provided store, for
// tests that exercise caching across runs or persistent backends.
func RunPlanWithStore(t *testing.T, src string, funcs map[string]function.Function, st store.Store) *Result {
	t.Helper()

	buf := &SafeBuffer{}
	ctx := Context(buf)
	p := ParsePlan(t, ctx, src)

	eng := engine.New(st, funcs, 4)
	report, err := eng.Run(ctx, p)

	return &Result{
		Ctx:    ctx,
		Engine: eng,
		Plan:   p,
		Report: report,
		Err:    err,
		Log:    buf,
	}
}

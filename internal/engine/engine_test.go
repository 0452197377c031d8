package engine_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/braidbuild/braid/internal/exec"
	"github.com/braidbuild/braid/internal/expand"
	"github.com/braidbuild/braid/internal/graph"
	"github.com/braidbuild/braid/internal/store"
	"github.com/braidbuild/braid/internal/testutil"
)

func TestStaticPipeline(t *testing.T) {
	var doubles atomic.Int32
	funcs := map[string]function.Function{"double": testutil.DoubleFunc(&doubles)}

	res := testutil.RunPlan(t, `
target "raw" {
  command = 21
}

target "doubled" {
  command = double(raw)
}

target "final" {
  command = double(doubled)
}
`, funcs)
	require.NoError(t, res.Err)
	assert.True(t, res.Report.OK())
	assert.Equal(t, 3, res.Report.Count(exec.Done))
	assert.Equal(t, int32(2), doubles.Load())

	val, err := res.Engine.ReadOne(res.Ctx, "final")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(84).RawEquals(val))
}

func TestMapTransform(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{"echo": testutil.EchoFunc(&echoes)}

	res := testutil.RunPlan(t, `
target "names" {
  command = ["setosa", "versicolor", "virginica"]
}

target "vals" {
  command = [10, 20, 30]
}

target "fits" {
  command = echo(vals)
  map {
    over  = [names, vals]
    trace = names
  }
}
`, funcs)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())
	assert.Equal(t, int32(3), echoes.Load())

	// One sub-target node per element, listed after the owner.
	for _, id := range []string{"fits[0]", "fits[1]", "fits[2]"} {
		status, ok := res.Report.Status(id)
		require.True(t, ok, id)
		assert.Equal(t, exec.Done, status.Status)
	}

	agg, err := res.Engine.ReadOne(res.Ctx, "fits")
	require.NoError(t, err)
	want := cty.TupleVal([]cty.Value{
		cty.NumberIntVal(10), cty.NumberIntVal(20), cty.NumberIntVal(30),
	})
	assert.True(t, want.RawEquals(agg))

	// Trace labels line up with aggregate positions.
	labels, err := res.Engine.ReadTrace(res.Ctx, "fits")
	require.NoError(t, err)
	assert.Equal(t, []string{"setosa", "versicolor", "virginica"}, labels)

	sub, err := res.Engine.ReadSubtarget(res.Ctx, "fits", 1)
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(20).RawEquals(sub))
}

func TestMapRowsFormat(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{"echo": testutil.EchoFunc(&echoes)}

	res := testutil.RunPlan(t, `
target "chunks" {
  command = [[1, 2], [3], [4, 5, 6]]
}

target "flat" {
  command = echo(chunks)
  format  = "rows"
  map {
    over = [chunks]
  }
}
`, funcs)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())

	agg, err := res.Engine.ReadOne(res.Ctx, "flat")
	require.NoError(t, err)
	want := cty.TupleVal([]cty.Value{
		cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3),
		cty.NumberIntVal(4), cty.NumberIntVal(5), cty.NumberIntVal(6),
	})
	assert.True(t, want.RawEquals(agg))
}

func TestCrossTransform(t *testing.T) {
	res := testutil.RunPlan(t, `
target "letters" {
  command = ["x", "y"]
}

target "nums" {
  command = ["1", "2", "3"]
}

target "grid" {
  command = "${letters}-${nums}"
  cross {
    over = [letters, nums]
  }
}
`, nil)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())

	agg, err := res.Engine.ReadOne(res.Ctx, "grid")
	require.NoError(t, err)

	// First-listed dimension varies slowest.
	want := []string{"x-1", "x-2", "x-3", "y-1", "y-2", "y-3"}
	require.Equal(t, len(want), agg.LengthInt())
	for i, expected := range want {
		assert.Equal(t, expected, agg.Index(cty.NumberIntVal(int64(i))).AsString())
	}
}

func TestGroupTransform(t *testing.T) {
	var sums atomic.Int32
	funcs := map[string]function.Function{"sum": testutil.SumFunc(&sums)}

	res := testutil.RunPlan(t, `
target "vals" {
  command = [1, 2, 3, 4, 5, 6]
}

target "species" {
  command = ["b", "b", "a", "a", "c", "c"]
}

target "sums" {
  command = sum(vals)
  group {
    over = [vals]
    by   = species
  }
}
`, funcs)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())
	assert.Equal(t, int32(3), sums.Load())

	agg, err := res.Engine.ReadOne(res.Ctx, "sums")
	require.NoError(t, err)
	want := cty.TupleVal([]cty.Value{
		cty.NumberIntVal(3), cty.NumberIntVal(7), cty.NumberIntVal(11),
	})
	assert.True(t, want.RawEquals(agg))

	// Group trace labels are the distinct keys in first-occurrence
	// order.
	labels, err := res.Engine.ReadTrace(res.Ctx, "sums")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, labels)
}

func TestDownstreamOfDynamicTarget(t *testing.T) {
	var sums atomic.Int32
	funcs := map[string]function.Function{"sum": testutil.SumFunc(&sums)}

	res := testutil.RunPlan(t, `
target "vals" {
  command = [1, 2, 3]
}

target "parts" {
  command = vals
  map {
    over = [vals]
  }
}

target "total" {
  command = sum(parts)
}
`, funcs)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())

	// total consumes the aggregate tuple of the dynamic target.
	val, err := res.Engine.ReadOne(res.Ctx, "total")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(6).RawEquals(val))
}

func TestFailurePropagation(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{
		"fail": testutil.FailFunc("boom"),
		"echo": testutil.EchoFunc(&echoes),
	}

	res := testutil.RunPlan(t, `
target "broken" {
  command = fail()
}

target "downstream" {
  command = echo(broken)
}

target "further" {
  command = echo(downstream)
}

target "independent" {
  command = echo(42)
}
`, funcs)
	require.NoError(t, res.Err)
	assert.False(t, res.Report.OK())

	broken, _ := res.Report.Status("broken")
	assert.Equal(t, exec.Failed, broken.Status)
	var cmdErr *exec.CommandError
	require.ErrorAs(t, broken.Err, &cmdErr)
	assert.ErrorContains(t, broken.Err, "boom")

	for _, id := range []string{"downstream", "further"} {
		status, _ := res.Report.Status(id)
		assert.Equal(t, exec.Skipped, status.Status, id)
		assert.Error(t, status.Err, id)
	}

	independent, _ := res.Report.Status("independent")
	assert.Equal(t, exec.Done, independent.Status)
	assert.Equal(t, int32(1), echoes.Load(), "only the independent command ran")
}

func TestFailedSubTargetSkipsOwner(t *testing.T) {
	funcs := map[string]function.Function{"fail": testutil.FailFunc("sub boom")}

	res := testutil.RunPlan(t, `
target "vals" {
  command = [1, 2]
}

target "fits" {
  command = fail()
  map {
    over = [vals]
  }
}

target "report" {
  command = fits
}
`, funcs)
	require.NoError(t, res.Err)
	assert.False(t, res.Report.OK())

	// Both subs fail; the owner never aggregates.
	for _, id := range []string{"fits[0]", "fits[1]"} {
		status, ok := res.Report.Status(id)
		require.True(t, ok, id)
		assert.Equal(t, exec.Failed, status.Status, id)
	}
	owner, _ := res.Report.Status("fits")
	assert.Equal(t, exec.Skipped, owner.Status)
	downstream, _ := res.Report.Status("report")
	assert.Equal(t, exec.Skipped, downstream.Status)
}

func TestLengthMismatchFailsExpansion(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{"echo": testutil.EchoFunc(&echoes)}

	res := testutil.RunPlan(t, `
target "xs" {
  command = [1, 2, 3]
}

target "ys" {
  command = [10, 20]
}

target "fits" {
  command = echo(xs)
  map {
    over = [xs, ys]
  }
}

target "downstream" {
  command = echo(fits)
}
`, funcs)
	require.NoError(t, res.Err)
	assert.False(t, res.Report.OK())

	fits, _ := res.Report.Status("fits")
	assert.Equal(t, exec.Failed, fits.Status)
	var mismatch *expand.LengthMismatchError
	assert.ErrorAs(t, fits.Err, &mismatch)

	// Expansion never produced sub-targets.
	_, hasSub := res.Report.Status("fits[0]")
	assert.False(t, hasSub)

	downstream, _ := res.Report.Status("downstream")
	assert.Equal(t, exec.Skipped, downstream.Status)
	assert.Equal(t, int32(0), echoes.Load())
}

func TestEmptyDimension(t *testing.T) {
	res := testutil.RunPlan(t, `
target "vals" {
  command = []
}

target "fits" {
  command = vals
  map {
    over = [vals]
  }
}
`, nil)
	require.NoError(t, res.Err)
	require.True(t, res.Report.OK())

	fits, _ := res.Report.Status("fits")
	assert.Equal(t, exec.Done, fits.Status)

	agg, err := res.Engine.ReadOne(res.Ctx, "fits")
	require.NoError(t, err)
	assert.True(t, cty.EmptyTupleVal.RawEquals(agg))
}

func TestCycleRejectedBeforeExecution(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{"echo": testutil.EchoFunc(&echoes)}

	res := testutil.RunPlan(t, `
target "a" {
  command = echo(b)
}

target "b" {
  command = echo(a)
}
`, funcs)
	require.Error(t, res.Err)
	var cycleErr *graph.CycleError
	require.ErrorAs(t, res.Err, &cycleErr)
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Members)
	assert.Nil(t, res.Report)
	assert.Equal(t, int32(0), echoes.Load(), "nothing executes when the plan is cyclic")
}

func TestUnknownReferenceRejected(t *testing.T) {
	res := testutil.RunPlan(t, `
target "a" {
  command = missing + 1
}
`, nil)
	require.Error(t, res.Err)
	var unknownErr *graph.UnknownReferenceError
	require.ErrorAs(t, res.Err, &unknownErr)
	assert.Equal(t, "a", unknownErr.Target)
	assert.Equal(t, "missing", unknownErr.Ref)
	assert.Nil(t, res.Report)
}

func TestSecondRunIsFullyCached(t *testing.T) {
	var doubles, echoes atomic.Int32
	funcs := map[string]function.Function{
		"double": testutil.DoubleFunc(&doubles),
		"echo":   testutil.EchoFunc(&echoes),
	}
	src := `
target "raw" {
  command = [1, 2, 3]
}

target "doubled" {
  command = double(raw)
  map {
    over = [raw]
  }
}

target "summary" {
  command = echo(doubled)
}
`
	st := store.NewMem()
	defer st.Close()

	first := testutil.RunPlanWithStore(t, src, funcs, st)
	require.NoError(t, first.Err)
	require.True(t, first.Report.OK())
	assert.Equal(t, int32(3), doubles.Load())
	assert.Equal(t, int32(1), echoes.Load())

	second := testutil.RunPlanWithStore(t, src, funcs, st)
	require.NoError(t, second.Err)
	require.True(t, second.Report.OK())

	// No command ran the second time.
	assert.Equal(t, int32(3), doubles.Load())
	assert.Equal(t, int32(1), echoes.Load())
	for _, id := range []string{"raw", "doubled", "doubled[0]", "doubled[1]", "doubled[2]", "summary"} {
		status, ok := second.Report.Status(id)
		require.True(t, ok, id)
		assert.Equal(t, exec.Done, status.Status, id)
		assert.True(t, status.Cached, id)
	}
}

func TestChangedElementRecomputesOneSubTarget(t *testing.T) {
	var doubles atomic.Int32
	funcs := map[string]function.Function{"double": testutil.DoubleFunc(&doubles)}

	st := store.NewMem()
	defer st.Close()

	first := testutil.RunPlanWithStore(t, `
target "raw" {
  command = [1, 2, 3]
}

target "doubled" {
  command = double(raw)
  map {
    over = [raw]
  }
}
`, funcs, st)
	require.NoError(t, first.Err)
	require.True(t, first.Report.OK())
	require.Equal(t, int32(3), doubles.Load())

	// Change the middle element only.
	second := testutil.RunPlanWithStore(t, `
target "raw" {
  command = [1, 9, 3]
}

target "doubled" {
  command = double(raw)
  map {
    over = [raw]
  }
}
`, funcs, st)
	require.NoError(t, second.Err)
	require.True(t, second.Report.OK())

	// Only the changed element's sub-target recomputed.
	assert.Equal(t, int32(4), doubles.Load())
	sub0, _ := second.Report.Status("doubled[0]")
	assert.True(t, sub0.Cached)
	sub1, _ := second.Report.Status("doubled[1]")
	assert.False(t, sub1.Cached)
	sub2, _ := second.Report.Status("doubled[2]")
	assert.True(t, sub2.Cached)

	agg, err := second.Engine.ReadOne(second.Ctx, "doubled")
	require.NoError(t, err)
	want := cty.TupleVal([]cty.Value{
		cty.NumberIntVal(2), cty.NumberIntVal(18), cty.NumberIntVal(6),
	})
	assert.True(t, want.RawEquals(agg))
}

func TestShrunkExpansionPrunesStaleSubTargets(t *testing.T) {
	var echoes atomic.Int32
	funcs := map[string]function.Function{"echo": testutil.EchoFunc(&echoes)}

	st := store.NewMem()
	defer st.Close()

	first := testutil.RunPlanWithStore(t, `
target "raw" {
  command = [1, 2, 3]
}

target "fits" {
  command = echo(raw)
  map {
    over = [raw]
  }
}
`, funcs, st)
	require.NoError(t, first.Err)
	require.True(t, first.Report.OK())

	second := testutil.RunPlanWithStore(t, `
target "raw" {
  command = [1, 2]
}

target "fits" {
  command = echo(raw)
  map {
    over = [raw]
  }
}
`, funcs, st)
	require.NoError(t, second.Err)
	require.True(t, second.Report.OK())

	_, hasStale := second.Report.Status("fits[2]")
	assert.False(t, hasStale)

	agg, err := second.Engine.ReadOne(second.Ctx, "fits")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.LengthInt())

	// The stale entry is gone from the store as well.
	_, err = st.Read(second.Ctx, store.Key{Target: "fits", Index: 2})
	var notFound *store.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestChangedCommandInvalidatesDownstream(t *testing.T) {
	var doubles atomic.Int32
	funcs := map[string]function.Function{"double": testutil.DoubleFunc(&doubles)}

	st := store.NewMem()
	defer st.Close()

	first := testutil.RunPlanWithStore(t, `
target "raw" {
  command = 5
}

target "doubled" {
  command = double(raw)
}
`, funcs, st)
	require.NoError(t, first.Err)
	require.Equal(t, int32(1), doubles.Load())

	// Editing the upstream command changes its value, which changes the
	// downstream stamp.
	second := testutil.RunPlanWithStore(t, `
target "raw" {
  command = 7
}

target "doubled" {
  command = double(raw)
}
`, funcs, st)
	require.NoError(t, second.Err)
	assert.Equal(t, int32(2), doubles.Load())

	val, err := second.Engine.ReadOne(second.Ctx, "doubled")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(14).RawEquals(val))
}

func TestReadOneMissingTarget(t *testing.T) {
	res := testutil.RunPlan(t, `
target "a" {
  command = 1
}
`, nil)
	require.NoError(t, res.Err)

	_, err := res.Engine.ReadOne(res.Ctx, "nope")
	var notFound *store.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

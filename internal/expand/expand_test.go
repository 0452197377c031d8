package expand

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/braidbuild/braid/internal/plan"
)

func strVals(ss ...string) []cty.Value {
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return vals
}

func numVals(ns ...int64) []cty.Value {
	vals := make([]cty.Value, len(ns))
	for i, n := range ns {
		vals[i] = cty.NumberIntVal(n)
	}
	return vals
}

func dynamicTarget(name string, tr *plan.Transform) *plan.Target {
	return &plan.Target{Name: name, Transform: tr}
}

func TestExpandMap(t *testing.T) {
	t.Run("zips dimensions elementwise", func(t *testing.T) {
		target := dynamicTarget("fits", &plan.Transform{
			Kind: plan.KindMap,
			Over: []string{"xs", "ys"},
		})
		subs, err := Expand(target, map[string][]cty.Value{
			"xs": numVals(1, 2, 3),
			"ys": numVals(10, 20, 30),
		})
		require.NoError(t, err)
		require.Len(t, subs, 3)

		for i, sub := range subs {
			assert.Equal(t, i, sub.Index)
			assert.Equal(t, []int{i}, sub.Elems["xs"])
			assert.Equal(t, []int{i}, sub.Elems["ys"])
			assert.False(t, sub.HasTrace)
		}
	})

	t.Run("trace labels come from the named dimension", func(t *testing.T) {
		target := dynamicTarget("fits", &plan.Transform{
			Kind:  plan.KindMap,
			Over:  []string{"names", "vals"},
			Trace: "names",
		})
		subs, err := Expand(target, map[string][]cty.Value{
			"names": strVals("setosa", "versicolor"),
			"vals":  numVals(5, 6),
		})
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.True(t, subs[0].HasTrace)
		assert.Equal(t, "setosa", subs[0].Trace)
		assert.Equal(t, "versicolor", subs[1].Trace)
	})

	t.Run("length mismatch fails expansion", func(t *testing.T) {
		target := dynamicTarget("fits", &plan.Transform{
			Kind: plan.KindMap,
			Over: []string{"xs", "ys"},
		})
		_, err := Expand(target, map[string][]cty.Value{
			"xs": numVals(1, 2, 3),
			"ys": numVals(10, 20),
		})
		var mismatch *LengthMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "fits", mismatch.Target)
		assert.ErrorContains(t, err, "xs has 3")
		assert.ErrorContains(t, err, "ys has 2")
	})

	t.Run("empty dimensions produce zero subs", func(t *testing.T) {
		target := dynamicTarget("fits", &plan.Transform{
			Kind: plan.KindMap,
			Over: []string{"xs"},
		})
		subs, err := Expand(target, map[string][]cty.Value{"xs": nil})
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestExpandCross(t *testing.T) {
	target := dynamicTarget("grid", &plan.Transform{
		Kind: plan.KindCross,
		Over: []string{"models", "datasets"},
	})
	subs, err := Expand(target, map[string][]cty.Value{
		"models":   strVals("lm", "glm", "gam"),
		"datasets": strVals("train", "test"),
	})
	require.NoError(t, err)
	require.Len(t, subs, 6)

	// First-listed dimension varies slowest, last varies fastest.
	expected := [][2]int{
		{0, 0}, {0, 1},
		{1, 0}, {1, 1},
		{2, 0}, {2, 1},
	}
	for i, sub := range subs {
		assert.Equal(t, i, sub.Index)
		assert.Equal(t, []int{expected[i][0]}, sub.Elems["models"], "sub %d models", i)
		assert.Equal(t, []int{expected[i][1]}, sub.Elems["datasets"], "sub %d datasets", i)
		assert.False(t, sub.HasTrace)
	}
}

func TestExpandCrossEmptyDimension(t *testing.T) {
	target := dynamicTarget("grid", &plan.Transform{
		Kind: plan.KindCross,
		Over: []string{"a", "b"},
	})
	subs, err := Expand(target, map[string][]cty.Value{
		"a": strVals("x", "y"),
		"b": nil,
	})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestExpandGroup(t *testing.T) {
	t.Run("buckets by key in first-occurrence order", func(t *testing.T) {
		target := dynamicTarget("sums", &plan.Transform{
			Kind: plan.KindGroup,
			Over: []string{"vals"},
			By:   "species",
		})
		subs, err := Expand(target, map[string][]cty.Value{
			"vals":    numVals(1, 2, 3, 4, 5, 6),
			"species": strVals("b", "b", "a", "a", "c", "c"),
		})
		require.NoError(t, err)
		require.Len(t, subs, 3)

		assert.Equal(t, "b", subs[0].Trace)
		assert.Equal(t, []int{0, 1}, subs[0].Elems["vals"])
		assert.Equal(t, "a", subs[1].Trace)
		assert.Equal(t, []int{2, 3}, subs[1].Elems["vals"])
		assert.Equal(t, "c", subs[2].Trace)
		assert.Equal(t, []int{4, 5}, subs[2].Elems["vals"])

		for _, sub := range subs {
			assert.True(t, sub.HasTrace)
			// The by dimension gets the same index subset.
			assert.Equal(t, sub.Elems["vals"], sub.Elems["species"])
		}
	})

	t.Run("interleaved keys keep their first-occurrence slot", func(t *testing.T) {
		target := dynamicTarget("sums", &plan.Transform{
			Kind: plan.KindGroup,
			Over: []string{"vals"},
			By:   "keys",
		})
		subs, err := Expand(target, map[string][]cty.Value{
			"vals": numVals(1, 2, 3, 4),
			"keys": strVals("x", "y", "x", "y"),
		})
		require.NoError(t, err)

		want := []Sub{
			{
				Index:    0,
				Elems:    map[string][]int{"vals": {0, 2}, "keys": {0, 2}},
				Trace:    "x",
				HasTrace: true,
			},
			{
				Index:    1,
				Elems:    map[string][]int{"vals": {1, 3}, "keys": {1, 3}},
				Trace:    "y",
				HasTrace: true,
			},
		}
		assert.Empty(t, cmp.Diff(want, subs))
	})

	t.Run("by length must match over length", func(t *testing.T) {
		target := dynamicTarget("sums", &plan.Transform{
			Kind: plan.KindGroup,
			Over: []string{"vals"},
			By:   "keys",
		})
		_, err := Expand(target, map[string][]cty.Value{
			"vals": numVals(1, 2, 3),
			"keys": strVals("x", "y"),
		})
		var mismatch *LengthMismatchError
		require.ErrorAs(t, err, &mismatch)
	})
}

func TestExpandNonDynamic(t *testing.T) {
	_, err := Expand(&plan.Target{Name: "static"}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not dynamic")
}

func TestElements(t *testing.T) {
	t.Run("tuple", func(t *testing.T) {
		elems, err := Elements("t", "d", cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("a")}))
		require.NoError(t, err)
		assert.Len(t, elems, 2)
	})

	t.Run("list", func(t *testing.T) {
		elems, err := Elements("t", "d", cty.ListVal(strVals("a", "b", "c")))
		require.NoError(t, err)
		assert.Equal(t, strVals("a", "b", "c"), elems)
	})

	t.Run("scalar rejected", func(t *testing.T) {
		_, err := Elements("t", "d", cty.NumberIntVal(7))
		require.Error(t, err)
		assert.ErrorContains(t, err, "not a sequence")
	})

	t.Run("null rejected", func(t *testing.T) {
		_, err := Elements("t", "d", cty.NullVal(cty.List(cty.String)))
		require.Error(t, err)
		assert.ErrorContains(t, err, "null value")
	})
}

func TestTraceString(t *testing.T) {
	assert.Equal(t, "hello", TraceString(cty.StringVal("hello")))
	assert.Equal(t, "42", TraceString(cty.NumberIntVal(42)))
	assert.Equal(t, "true", TraceString(cty.True))
	assert.Equal(t, "null", TraceString(cty.NullVal(cty.String)))
	assert.Equal(t, `["a","b"]`, TraceString(cty.TupleVal(strVals("a", "b"))))
}

// Package expand converts a dynamic target's transform plus the
// materialized values of its dimension targets into a concrete,
// ordered list of sub-target specifications.
//
// Expansion is pure: it inspects values and produces specs, it never
// executes anything. The executor re-runs it on every run, so a change
// in dimension values (length, ordering, distinct group keys) is
// naturally reflected in a changed sub-target list.
package expand

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/braidbuild/braid/internal/plan"
)

// Sub is the specification of one sub-target: which element indices of
// each dimension it consumes, and the trace label attached to it. The
// Index is the sub-target's position in enumeration order, which is
// also its aggregation position.
type Sub struct {
	Index int
	// Elems maps each dimension name to the element indices this
	// sub-target consumes. Map and cross subs consume exactly one
	// element per dimension; group subs consume an index subset.
	Elems map[string][]int
	// Trace is the sub-target's trace label, when the transform
	// declares one (map with trace, or group, whose labels are the
	// group keys).
	Trace    string
	HasTrace bool
}

// LengthMismatchError reports dimension sequences whose lengths do not
// line up for a map or group transform. The owning dynamic target is
// marked failed and none of its sub-targets are created.
type LengthMismatchError struct {
	Target  string
	Dims    []string
	Lengths []int
}

func (e *LengthMismatchError) Error() string {
	parts := make([]string, len(e.Dims))
	for i, dim := range e.Dims {
		parts[i] = fmt.Sprintf("%s has %d", dim, e.Lengths[i])
	}
	return fmt.Sprintf("target %q: dimension lengths do not match: %s", e.Target, strings.Join(parts, ", "))
}

// Expand produces the ordered sub-target list for a dynamic target.
// dims holds the materialized element sequences of every dimension the
// transform declares (including 'by' for group transforms).
func Expand(t *plan.Target, dims map[string][]cty.Value) ([]Sub, error) {
	tr := t.Transform
	if tr == nil {
		return nil, fmt.Errorf("target %q is not dynamic", t.Name)
	}

	switch tr.Kind {
	case plan.KindMap:
		return expandMap(t, dims)
	case plan.KindCross:
		return expandCross(t, dims)
	case plan.KindGroup:
		return expandGroup(t, dims)
	}
	return nil, fmt.Errorf("target %q: unknown transform kind", t.Name)
}

// expandMap zips the dimensions elementwise: one sub-target per index.
func expandMap(t *plan.Target, dims map[string][]cty.Value) ([]Sub, error) {
	tr := t.Transform
	length, err := commonLength(t.Name, tr.Over, dims)
	if err != nil {
		return nil, err
	}

	subs := make([]Sub, 0, length)
	for i := 0; i < length; i++ {
		sub := Sub{Index: i, Elems: make(map[string][]int, len(tr.Over))}
		for _, dim := range tr.Over {
			sub.Elems[dim] = []int{i}
		}
		if tr.Trace != "" {
			sub.Trace = TraceString(dims[tr.Trace][i])
			sub.HasTrace = true
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// expandCross enumerates the Cartesian product of the dimensions. The
// first-listed dimension varies slowest, the last varies fastest, so
// downstream aggregation order is reproducible.
func expandCross(t *plan.Target, dims map[string][]cty.Value) ([]Sub, error) {
	tr := t.Transform
	total := 1
	for _, dim := range tr.Over {
		total *= len(dims[dim])
	}

	subs := make([]Sub, 0, total)
	for i := 0; i < total; i++ {
		sub := Sub{Index: i, Elems: make(map[string][]int, len(tr.Over))}
		rem := i
		for d := len(tr.Over) - 1; d >= 0; d-- {
			dim := tr.Over[d]
			n := len(dims[dim])
			sub.Elems[dim] = []int{rem % n}
			rem /= n
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// expandGroup buckets the dimension elements by the distinct values of
// the 'by' sequence, preserving first-occurrence order of the keys.
func expandGroup(t *plan.Target, dims map[string][]cty.Value) ([]Sub, error) {
	tr := t.Transform
	checked := append(append([]string(nil), tr.Over...), tr.By)
	length, err := commonLength(t.Name, checked, dims)
	if err != nil {
		return nil, err
	}

	byVals := dims[tr.By]
	keyOrder := make([]string, 0)
	buckets := make(map[string][]int)
	for i := 0; i < length; i++ {
		key := TraceString(byVals[i])
		if _, seen := buckets[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		buckets[key] = append(buckets[key], i)
	}

	subs := make([]Sub, 0, len(keyOrder))
	for i, key := range keyOrder {
		sub := Sub{
			Index:    i,
			Elems:    make(map[string][]int, len(tr.Over)+1),
			Trace:    key,
			HasTrace: true,
		}
		for _, dim := range tr.Over {
			sub.Elems[dim] = append([]int(nil), buckets[key]...)
		}
		if _, isDim := sub.Elems[tr.By]; !isDim {
			sub.Elems[tr.By] = append([]int(nil), buckets[key]...)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// commonLength verifies that every named dimension has the same number
// of elements and returns that length.
func commonLength(target string, names []string, dims map[string][]cty.Value) (int, error) {
	length := -1
	for _, name := range names {
		n := len(dims[name])
		if length == -1 {
			length = n
			continue
		}
		if n != length {
			lengths := make([]int, len(names))
			for i, d := range names {
				lengths[i] = len(dims[d])
			}
			return 0, &LengthMismatchError{Target: target, Dims: names, Lengths: lengths}
		}
	}
	return length, nil
}

// Elements breaks a materialized dimension value into its elements. A
// dimension must be sequence-like (list, tuple or set).
func Elements(target, dim string, val cty.Value) ([]cty.Value, error) {
	if val.IsNull() {
		return nil, fmt.Errorf("target %q: dimension %q has a null value", target, dim)
	}
	ty := val.Type()
	if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
		return nil, fmt.Errorf("target %q: dimension %q is not a sequence (got %s)", target, dim, ty.FriendlyName())
	}

	var elems []cty.Value
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		elems = append(elems, v)
	}
	return elems, nil
}

// TraceString renders a value as a trace label or group key. Strings
// pass through; anything else gets its JSON rendering so distinct
// values stay distinct.
func TraceString(val cty.Value) string {
	if val.IsNull() {
		return "null"
	}
	switch val.Type() {
	case cty.String:
		return val.AsString()
	case cty.Number:
		return val.AsBigFloat().Text('f', -1)
	case cty.Bool:
		if val.True() {
			return "true"
		}
		return "false"
	}
	b, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return val.GoString()
	}
	return string(b)
}

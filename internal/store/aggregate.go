package store

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Aggregate combines sub-target values into the value a downstream
// reference observes for the whole target. Entries must already be in
// index order (List guarantees it); aggregation order is therefore
// expansion enumeration order, independent of completion order.
//
// Format "value" yields one aggregate element per sub-target. Format
// "rows" expects each sub-target value to be a sequence and
// concatenates their elements (row-binding).
func Aggregate(entries []SubEntry, format string) (cty.Value, error) {
	var elems []cty.Value
	for _, sub := range entries {
		val, err := sub.Entry.Value()
		if err != nil {
			return cty.NilVal, err
		}
		switch format {
		case string(formatRows):
			if val.IsNull() || !val.CanIterateElements() {
				return cty.NilVal, fmt.Errorf("sub-target %d: format %q requires a sequence value", sub.Index, format)
			}
			for it := val.ElementIterator(); it.Next(); {
				_, v := it.Element()
				elems = append(elems, v)
			}
		default:
			elems = append(elems, val)
		}
	}
	if len(elems) == 0 {
		return cty.EmptyTupleVal, nil
	}
	return cty.TupleVal(elems), nil
}

// ReadAggregate reads a target's sub-target entries and combines them.
func ReadAggregate(ctx context.Context, s Store, target, format string) (cty.Value, error) {
	entries, err := s.List(ctx, target)
	if err != nil {
		return cty.NilVal, err
	}
	return Aggregate(entries, format)
}

// ReadTrace returns the trace labels of a target's sub-targets in
// aggregation order. Label i corresponds to aggregate element i for
// "value" format targets.
func ReadTrace(ctx context.Context, s Store, target string) ([]string, error) {
	entries, err := s.List(ctx, target)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(entries))
	for _, sub := range entries {
		if !sub.Entry.HasTrace {
			return nil, fmt.Errorf("sub-target %s[%d] carries no trace label", target, sub.Index)
		}
		labels = append(labels, sub.Entry.Trace)
	}
	return labels, nil
}

// formatRows mirrors plan.FormatRows without importing the plan
// package; the store stores the format as an opaque string.
const formatRows = "rows"

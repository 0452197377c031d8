package exec

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// CommandError reports that a node's opaque computation failed. The
// node it belongs to transitions to Failed and its dependents are
// skipped.
type CommandError struct {
	Node string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command for %q failed: %v", e.Node, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// evalCommand evaluates a command expression against the given
// variable bindings and the host's function registry.
func evalCommand(nodeID string, expr hcl.Expression, vars map[string]cty.Value, funcs map[string]function.Function) (cty.Value, error) {
	evalCtx := &hcl.EvalContext{
		Variables: vars,
		Functions: funcs,
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, &CommandError{Node: nodeID, Err: diags}
	}
	return val, nil
}

// tupleOf wraps a slice of values as a cty tuple, tolerating mixed
// element types.
func tupleOf(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vals)
}
